package structfield

// Item is one member of a structured-field list: the unquoted bare value and
// its parameters.
type Item struct {
	Value  string
	Params Params
}

// Param returns the raw value of the named parameter.
func (i Item) Param(key string) (string, bool) {
	return i.Params.Get(key)
}

// Params is an ordered parameter map. Keys keep the position of their first
// declaration; a repeated key overwrites the earlier value.
type Params struct {
	keys   []string
	values map[string]string
}

func newParams(capacity int) Params {
	if capacity < 0 {
		capacity = 0
	}
	return Params{
		keys:   make([]string, 0, capacity),
		values: make(map[string]string, capacity),
	}
}

func (p *Params) set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key.
func (p Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns parameter names in declaration order.
func (p Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of distinct parameters.
func (p Params) Len() int {
	return len(p.keys)
}
