package controlunit

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "controlunit")
