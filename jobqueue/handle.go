package jobqueue

// Handle is the one-shot outcome of an enqueued job.
type Handle struct {
	done chan struct{}
	err  error
}

// Done is closed once the job settled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job settled and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

func (h *Handle) settle(err error) {
	h.err = err
	close(h.done)
}
