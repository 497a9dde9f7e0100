package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMap(t *testing.T) {
	m := map[string]int{"a": 1}
	c := CloneMap(m)
	c["b"] = 2
	assert.Equal(t, 1, len(m))
	assert.Equal(t, 2, len(c))
	assert.Equal(t, 0, len(CloneMap[string, int](nil)))
}

func TestSerialize(t *testing.T) {
	b, err := Serialize(map[string]any{"name": "learner", "replicas": 2})
	assert.Nil(t, err)

	var out struct {
		Name     string
		Replicas int
	}
	assert.Nil(t, Unserialize(b, &out))
	assert.Equal(t, "learner", out.Name)
	assert.Equal(t, 2, out.Replicas)

	_, err = Serialize(make(chan int))
	assert.NotNil(t, err)
}
