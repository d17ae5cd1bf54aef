package data

import (
	"fmt"

	"github.com/ember-ml/ember/internal/tensor"
)

// Matcher counts the rows of a batched output that agree with the target.
type Matcher func(output, target *tensor.Tensor) int

func checkMatch(name string, output, target *tensor.Tensor) {
	if output.Len() != target.Len() || output.Dim(0) != target.Dim(0) {
		panic(fmt.Sprintf("%s: output %v and target %v differ in size", name, output, target))
	}
}

// ArgmaxMatch counts samples whose largest output is at the same position
// as their largest target. Ties resolve to the lowest index.
func ArgmaxMatch(output, target *tensor.Tensor) int {
	checkMatch("argmax match", output, target)
	out, want := output.Matrix(), target.Matrix()
	correct := 0
	for i := 0; i < out.Dim(0); i++ {
		if out.Argmax(i) == want.Argmax(i) {
			correct++
		}
	}
	return correct
}

// ScaledRoundMatch returns a Matcher for regression outputs: a sample is
// correct when every value satisfies int(o/scale) == int(t/scale), where
// int truncates toward zero. ScaledRoundMatch(1) compares integer parts.
func ScaledRoundMatch(scale float32) Matcher {
	if scale == 0 {
		panic("scaled round match: scale must be non-zero")
	}
	return func(output, target *tensor.Tensor) int {
		checkMatch("scaled round match", output, target)
		out, want := output.Matrix(), target.Matrix()
		correct := 0
		for i := 0; i < out.Dim(0); i++ {
			t := want.Row(i)
			ok := true
			for j, o := range out.Row(i) {
				if int64(o/scale) != int64(t[j]/scale) {
					ok = false
					break
				}
			}
			if ok {
				correct++
			}
		}
		return correct
	}
}
