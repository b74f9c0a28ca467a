package plugraph

// Disposable is implemented by objects that hold resources. Cached objects
// implementing it are closed when their cache is cleared: on container
// Close, scope Close, ReleaseThread or Eject.
//
// Example:
//
//	type DatabaseConnection struct {
//	    conn *sql.DB
//	}
//
//	func (dc *DatabaseConnection) Close() error {
//	    return dc.conn.Close()
//	}
type Disposable interface {
	Close() error
}

// Validator is implemented by objects that can check their own state after
// construction. Validate is only called by Container.Validate.
type Validator interface {
	Validate() error
}

func dispose(value any) error {
	if d, ok := value.(Disposable); ok {
		return d.Close()
	}
	return nil
}
