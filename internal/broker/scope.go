package broker

// scoped acquires a resource, runs fn with it and releases it on every exit
// path, panics included. A release error is handed to onReleaseErr and never
// replaces the error returned by fn.
func scoped[T any](acquire func() (T, error), release func(T) error, onReleaseErr func(error), fn func(T) error) error {
	res, err := acquire()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(res); rerr != nil {
			onReleaseErr(rerr)
		}
	}()
	return fn(res)
}

// WithChannel runs fn on a fresh channel and closes the channel afterwards.
// The connection is opened first if needed and stays open for later scopes.
func (m *ConnectionManager) WithChannel(fn func(ch Channel) error) error {
	return scoped(m.Channel, m.releaseChannel, m.onReleaseErr("channel"), fn)
}

// WithConnection opens the connection, runs fn with it and closes it again.
// At exit the connection is probed first; a dead connection is dropped
// instead of closed.
func (m *ConnectionManager) WithConnection(fn func(conn Connection) error) error {
	return scoped(m.Open, m.releaseConnection, m.onReleaseErr("connection"), fn)
}

// releaseChannel counts only channels this scope actually closed.
func (m *ConnectionManager) releaseChannel(ch Channel) error {
	if ch.IsClosed() {
		return nil
	}
	if err := ch.Close(); err != nil {
		return err
	}
	m.metrics.ChannelsClosed.Inc()
	return nil
}

func (m *ConnectionManager) releaseConnection(Connection) error {
	if m.Probe() {
		m.Close()
	}
	return nil
}

func (m *ConnectionManager) onReleaseErr(resource string) func(error) {
	return func(err error) {
		m.releaseFailed(&ReleaseError{Resource: resource, Err: err})
	}
}
