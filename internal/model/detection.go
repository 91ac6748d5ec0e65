package model

import "time"

// Result values written by the inspection station.
const (
	ResultQualified      = "合格"
	ResultFault          = "故障"
	ResultFaultFound     = "有故障"
	ResultSuspectedFault = "疑似故障"
)

// Detection is one ultrasonic inspection of an axle.
type Detection struct {
	ID         string    `json:"szIDs"`
	AxleID     string    `json:"szIDsWheel"`
	Result     string    `json:"szResult"`
	Username   string    `json:"szUsername"`
	WheelModel string    `json:"szWHModel"`
	DetectedAt time.Time `json:"tmnow"`
}

// IsFault reports whether the inspection found or suspects a defect.
func (d Detection) IsFault() bool {
	switch d.Result {
	case ResultFault, ResultFaultFound, ResultSuspectedFault:
		return true
	}
	return false
}

// DetectionDefect is one channel reading of a faulty inspection.
type DetectionDefect struct {
	OpID    string `json:"opid"`
	Board   int    `json:"nBoard"`
	Channel int    `json:"nChannel"`
}

// Corporation describes the inspection device and its owner.
type Corporation struct {
	DeviceNo  string `json:"DeviceNO"`
	Factory   string `json:"Factory"`
	FactoryNo string `json:"FactoryNo"`
	Unit      string `json:"Unit"`
}
