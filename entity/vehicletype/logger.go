package vehicletype

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "vehicletype")
