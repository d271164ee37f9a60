package instance

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// Log levels accepted by Log.
const (
	LogDebug = "debug"
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// SaveConfig asks the host to persist a config the module changed itself,
// for example after discovering a device serial number.
func (i *Instance) SaveConfig(config map[string]any) {
	i.setConfig(config)
	i.peer.Notify(protocol.MethodSaveConfig, protocol.SaveConfigMessage{Config: protocol.CloneOptions(config)})
}

// SetStatus reports the instance's connection status to the host.
func (i *Instance) SetStatus(status, message string) {
	i.peer.Notify(protocol.MethodSetStatus, protocol.SetStatusMessage{Status: status, Message: message})
}

// Log writes a line to the local log and forwards it to the host's log.
func (i *Instance) Log(level, message string) {
	switch strings.ToLower(level) {
	case LogDebug:
		i.logger.Debug(message, "source", "module")
	case LogWarn:
		i.logger.Warn(message, "source", "module")
	case LogError:
		i.logger.Error(message, "source", "module")
	default:
		level = LogInfo
		i.logger.Info(message, "source", "module")
	}
	i.peer.Notify(protocol.MethodLogMessage, protocol.LogMessage{Level: level, Message: message})
}

// SendOSC asks the host to send an OSC message on the module's behalf.
func (i *Instance) SendOSC(host string, port int, path string, args ...protocol.OSCArgument) {
	if args == nil {
		args = []protocol.OSCArgument{}
	}
	i.peer.Notify(protocol.MethodSendOSC, protocol.SendOSCMessage{Host: host, Port: port, Path: path, Args: args})
}

// ParseVariablesInString asks the host to expand variable references such
// as $(label:name) in text.
func (i *Instance) ParseVariablesInString(ctx context.Context, text string) (string, error) {
	var res protocol.ParseVariablesResponse
	if err := i.peer.Call(ctx, protocol.MethodParseVariables, protocol.ParseVariablesMessage{Text: text}, &res); err != nil {
		return "", fmt.Errorf("parsing variables: %w", err)
	}
	return res.Text, nil
}
