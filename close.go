package embedspace

// Close drains the background job runner and closes the index, the
// artifact store and the metadata store, in that order. It is safe to
// call more than once; later calls return the first result. Operations
// after Close return ErrClosed.
func (es *EmbedSpace) Close() error {
	if es == nil {
		return nil
	}

	es.closeOnce.Do(func() {
		es.closed.Store(true)

		var firstErr error

		if err := es.jobs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := es.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := es.artifacts.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := es.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		es.closeErr = firstErr
	})

	return es.closeErr
}
