package clocksync

// Observer receives commands in the local clock domain plus connection
// changes. Calls arrive on whichever goroutine detected the condition, in
// the order the conditions were detected. It is safe to call back into the
// Engine, including Disconnect, from any method.
type Observer interface {
	StartCommandReceived(hostTime uint64, tempo float32)
	StopCommandReceived(hostTime uint64)
	ConnectionEstablished(role Role)
	ConnectionLost()
	ConnectionCancelled()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStart     func(hostTime uint64, tempo float32)
	OnStop      func(hostTime uint64)
	OnConnected func(role Role)
	OnLost      func()
	OnCancelled func()
}

func (o ObserverFuncs) StartCommandReceived(hostTime uint64, tempo float32) {
	if o.OnStart != nil {
		o.OnStart(hostTime, tempo)
	}
}

func (o ObserverFuncs) StopCommandReceived(hostTime uint64) {
	if o.OnStop != nil {
		o.OnStop(hostTime)
	}
}

func (o ObserverFuncs) ConnectionEstablished(role Role) {
	if o.OnConnected != nil {
		o.OnConnected(role)
	}
}

func (o ObserverFuncs) ConnectionLost() {
	if o.OnLost != nil {
		o.OnLost()
	}
}

func (o ObserverFuncs) ConnectionCancelled() {
	if o.OnCancelled != nil {
		o.OnCancelled()
	}
}
