package indicators

// sliceChan feeds a slice into a closed channel for the cinar pipelines
func sliceChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// drain collects a pipeline's output back into a slice
func drain(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}
