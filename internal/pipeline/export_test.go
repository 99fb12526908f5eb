package pipeline

// MonitorOnce runs a single background-monitor scan, for tests.
func (p *Pipeline) MonitorOnce() { p.monitorOnce() }
