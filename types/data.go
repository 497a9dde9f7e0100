package types

import (
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cast"
	"github.com/warriorguo/launchpad/utils"
)

// Data is an untyped key/value bag. It carries node arguments and the
// backend specific option bags which the dispatcher forwards opaquely.
type Data map[string]any

func (d *Data) Get(key string) (any, bool) {
	if d == nil || *d == nil {
		return nil, false
	}
	v, exists := (*d)[key]
	return v, exists
}

func (d *Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d *Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d *Data) GetInt64(key string) (int64, bool) {
	v, exists := d.Get(key)
	return cast.ToInt64(v), exists
}

func (d *Data) GetBool(key string) (bool, bool) {
	v, exists := d.Get(key)
	return cast.ToBool(v), exists
}

func (d *Data) GetFloat64(key string) (float64, bool) {
	v, exists := d.Get(key)
	return cast.ToFloat64(v), exists
}

func (d *Data) GetDuration(key string) (time.Duration, bool) {
	v, exists := d.Get(key)
	return cast.ToDuration(v), exists
}

func (d *Data) GetStringSlice(key string) ([]string, bool) {
	v, exists := d.Get(key)
	return cast.ToStringSlice(v), exists
}

func (d *Data) GetStringMapString(key string) (map[string]string, bool) {
	v, exists := d.Get(key)
	return cast.ToStringMapString(v), exists
}

// GetData returns a nested bag, e.g. the resources of one group.
func (d *Data) GetData(key string) (Data, bool) {
	v, exists := d.Get(key)
	if !exists {
		return nil, false
	}
	if sub, ok := v.(Data); ok {
		return sub, true
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil, false
	}
	return Data(m), true
}

func (d *Data) GetStruct(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFoundf("key %s", key)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.New("marshal failed"))
	}
	return json.Unmarshal(b, s)
}

func (d *Data) Set(key string, value any) {
	(*d)[key] = value
}

// Clone returns a shallow copy, nil stays nil.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	return Data(utils.CloneMap(d))
}
