package configs

import (
	"fmt"
	format "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"time"
)

func initLog() {
	if *Debug {
		Log.SetLevel(logrus.DebugLevel)
	} else {
		Log.SetLevel(logrus.InfoLevel)
	}

	Log.SetFormatter(&format.Formatter{
		HideKeys:        false,
		TimestampFormat: time.RFC3339,
		FieldsOrder:     []string{"component", "category"},
	})

	Log.WithField("component", "configs").Info(fmt.Sprintf("logger ready, debug=%t", *Debug))
}

// Component returns a logger entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
