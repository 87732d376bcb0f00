package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHookRegistry_RunsInOrderAndStopsOnError(t *testing.T) {
	reg := NewHookRegistry[int]()
	var seen []string

	reg.On(AfterChange, func(_ context.Context, v int) error {
		seen = append(seen, "first")
		return nil
	})
	reg.On(AfterChange, func(_ context.Context, v int) error {
		seen = append(seen, "second")
		if v < 0 {
			return errors.New("negative")
		}
		return nil
	})
	reg.On(AfterChange, func(_ context.Context, v int) error {
		seen = append(seen, "third")
		return nil
	})

	assert.NoError(t, reg.Run(context.Background(), AfterChange, 1))
	assert.Equal(t, []string{"first", "second", "third"}, seen)

	seen = nil
	assert.EqualError(t, reg.Run(context.Background(), AfterChange, -1), "negative")
	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Equal(t, 3, reg.Len(AfterChange))
}

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Limit: 50}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: 50, Offset: 0}, Page{Limit: 10_000, Offset: -3}.Normalize())
	assert.Equal(t, Page{Limit: 20, Offset: 40}, Page{Limit: 20, Offset: 40}.Normalize())
}
