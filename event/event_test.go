package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testEventA struct{ value int }

func (testEventA) Type() uint32 { return 0x01 }

type testEventB struct{ name string }

func (testEventB) Type() uint32 { return 0x02 }

func TestDispatcher_SubscribeAndPublish(t *testing.T) {
	d := NewDispatcher()

	var gotA []int
	var gotB []string
	cancelA := Subscribe(d, func(e testEventA) { gotA = append(gotA, e.value) })
	cancelB := Subscribe(d, func(e testEventB) { gotB = append(gotB, e.name) })
	defer cancelB()

	Publish(d, testEventA{value: 1})
	Publish(d, testEventB{name: "b"})
	Publish(d, testEventA{value: 2})

	assert.Equal(t, []int{1, 2}, gotA)
	assert.Equal(t, []string{"b"}, gotB)

	cancelA()
	cancelA()
	Publish(d, testEventA{value: 3})
	assert.Equal(t, []int{1, 2}, gotA)
}

func TestDispatcher_MultipleSubscribers(t *testing.T) {
	d := NewDispatcher()

	count := 0
	cancel1 := Subscribe(d, func(testEventA) { count++ })
	cancel2 := Subscribe(d, func(testEventA) { count += 10 })

	Publish(d, testEventA{})
	assert.Equal(t, 11, count)

	cancel1()
	Publish(d, testEventA{})
	assert.Equal(t, 21, count)

	cancel2()
	Publish(d, testEventA{})
	assert.Equal(t, 21, count)
}
