package utils

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// InitLogging configures the process-wide logrus logger.
// level is any logrus level name; format is "text" or "json".
func InitLogging(level, format string) {
	log.SetOutput(os.Stdout)

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// Logger returns an entry tagged with the owning component
func Logger(component string) *log.Entry {
	return log.WithField("component", component)
}

// LogError logs errors with context and key/value metadata
func LogError(context string, err error, metadata ...interface{}) {
	if err != nil {
		log.WithFields(fieldsFrom(metadata)).WithError(err).Error(context)
	}
}

// LogInfo logs informational messages with key/value metadata
func LogInfo(message string, metadata ...interface{}) {
	log.WithFields(fieldsFrom(metadata)).Info(message)
}

// LogRequestError logs errors with request context
func LogRequestError(c *fiber.Ctx, context string, err error, metadata ...interface{}) {
	if err == nil {
		return
	}
	requestID, _ := c.Locals("request_id").(string)
	fields := fieldsFrom(metadata)
	fields["request_id"] = requestID
	fields["method"] = c.Method()
	fields["path"] = c.Path()
	fields["ip"] = c.IP()
	if subject, ok := c.Locals("subject").(string); ok {
		fields["subject"] = subject
	}
	log.WithFields(fields).WithError(err).Error(context)
}

// fieldsFrom turns alternating key/value pairs into logrus fields.
// A trailing key without a value is recorded under "extra".
func fieldsFrom(metadata []interface{}) log.Fields {
	fields := log.Fields{}
	for i := 0; i < len(metadata); i += 2 {
		key, ok := metadata[i].(string)
		if !ok {
			continue
		}
		if i+1 >= len(metadata) {
			fields["extra"] = key
			break
		}
		fields[key] = metadata[i+1]
	}
	return fields
}
