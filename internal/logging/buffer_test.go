package logging

import (
	"reflect"
	"testing"
	"time"
)

var timeZero time.Time

func TestRingBuffer(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		writes []int
		tail   int
		want   []int
	}{
		{"empty", 3, nil, 0, nil},
		{"partial", 3, []int{1, 2}, 0, []int{1, 2}},
		{"full", 3, []int{1, 2, 3}, 0, []int{1, 2, 3}},
		{"wrapped", 3, []int{1, 2, 3, 4, 5}, 0, []int{3, 4, 5}},
		{"tail", 3, []int{1, 2, 3, 4, 5}, 2, []int{4, 5}},
		{"tail over count", 5, []int{1, 2}, 4, []int{1, 2}},
		{"zero size", 0, []int{1, 2}, 0, []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := NewRingBuffer[int](tt.size)
			for _, v := range tt.writes {
				rb.Write(v)
			}
			if got := rb.Tail(tt.tail); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tail(%d) = %v, want %v", tt.tail, got, tt.want)
			}
			if rb.Count() != len(tt.want) && tt.tail == 0 {
				t.Errorf("Count() = %d, want %d", rb.Count(), len(tt.want))
			}
		})
	}
}

func TestRingBufferReset(t *testing.T) {
	rb := NewRingBuffer[string](2)
	rb.Write("a")
	rb.Write("b")
	rb.Write("c")
	rb.Reset()

	if rb.Count() != 0 || rb.ReadAll() != nil {
		t.Fatalf("buffer not empty after Reset: %v", rb.ReadAll())
	}
	rb.Write("d")
	if got := rb.ReadAll(); !reflect.DeepEqual(got, []string{"d"}) {
		t.Errorf("ReadAll() = %v", got)
	}
}
