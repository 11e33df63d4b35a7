package core

// MultiSink fans the progress stream out to several sinks in order.
type MultiSink []ProgressSink

// OnProgress implements ProgressSink.
func (m MultiSink) OnProgress(snapshot JobSnapshot) {
	for _, sink := range m {
		sink.OnProgress(snapshot)
	}
}

// OnLog implements ProgressSink.
func (m MultiSink) OnLog(entry LogEntry) {
	for _, sink := range m {
		sink.OnLog(entry)
	}
}

// OnTerminal implements ProgressSink.
func (m MultiSink) OnTerminal(stage Stage, errInfo *ErrorInfo) {
	for _, sink := range m {
		sink.OnTerminal(stage, errInfo)
	}
}
