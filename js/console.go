package js

import (
	"strconv"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
)

type console struct {
	logger logrus.FieldLogger
}

func newConsole(logger logrus.FieldLogger) *console {
	return &console{logger: logger}
}

// log writes the first argument as the message. Object arguments are
// flattened into fields, the rest become arg1, arg2...
func (c *console) log(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return goja.Undefined()
	}
	fields := make(logrus.Fields, len(call.Arguments)-1)
	for i, arg := range call.Arguments[1:] {
		if obj, ok := arg.(*goja.Object); ok && obj.ClassName() == "Object" {
			for _, key := range obj.Keys() {
				fields[key] = obj.Get(key).String()
			}
			continue
		}
		fields["arg"+strconv.Itoa(i+1)] = arg.String()
	}
	c.logger.WithFields(fields).Info(call.Argument(0).String())
	return goja.Undefined()
}
