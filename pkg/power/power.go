// Package power defines the power-supply collaborator (external per spec
// §6): the core invokes set_output once at group start (on) and once at
// stop (off). The real driver talks Modbus to a bench supply; that
// driver is explicitly out of scope here.
package power

import log "github.com/sirupsen/logrus"

// Supply is the external power-supply collaborator.
type Supply interface {
	SetOutput(on bool, projectName string) (bool, error)
}

// NoopSupply does nothing and always reports success; useful for groups
// that do not drive a real bench supply (e.g. benches, tests).
type NoopSupply struct{}

func (NoopSupply) SetOutput(on bool, projectName string) (bool, error) { return true, nil }

// LoggingSupply logs the requested state transition and reports success,
// for operation without a real Modbus driver wired in.
type LoggingSupply struct {
	logger *log.Entry
}

func NewLoggingSupply(logger *log.Entry) *LoggingSupply {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &LoggingSupply{logger: logger}
}

func (s *LoggingSupply) SetOutput(on bool, projectName string) (bool, error) {
	s.logger.WithFields(log.Fields{"project": projectName, "on": on}).Info("power: set output")
	return true, nil
}
