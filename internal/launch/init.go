package launch

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Init runs the helper side of Launch and never returns. The caller must
// have locked the main goroutine to its thread before any other work.
func Init() {
	cfg, err := readConfig(os.NewFile(configFd, "config"))
	if err != nil {
		logrus.Error(err)
		os.Exit(ExitSetup)
	}

	log := logrus.WithField("cmd", cfg.LogPrefix)
	os.Exit(Main(unixSystem{}, cfg, log))
}
