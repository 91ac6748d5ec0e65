package payload

// Direction is the side of the axle a probe board looks at.
type Direction string

const (
	DirectionNone  Direction = ""
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Location is the part of the axle a probe channel covers.
type Location string

const (
	LocationNone            Location = ""
	LocationThroughHole     Location = "through-hole"
	LocationUnloadingGroove Location = "unloading-groove"
	LocationOuter           Location = "outer"
	LocationInner           Location = "inner"
	LocationWheelSeat       Location = "wheel-seat"
	LocationAxleBody        Location = "axle-body"
)

// ClassifyDirection maps a probe board number to an axle side.
func ClassifyDirection(board int) Direction {
	switch board {
	case 0:
		return DirectionLeft
	case 1:
		return DirectionRight
	default:
		return DirectionNone
	}
}

// ClassifyLocation maps a probe channel number to an axle region.
func ClassifyLocation(channel int) Location {
	switch {
	case channel == 0:
		return LocationThroughHole
	case channel >= 1 && channel <= 2:
		return LocationUnloadingGroove
	case channel == 3:
		return LocationOuter
	case channel == 4:
		return LocationInner
	case channel >= 5 && channel <= 8:
		return LocationWheelSeat
	default:
		return LocationAxleBody
	}
}

var directionLabels = map[Direction]string{
	DirectionLeft:  "左",
	DirectionRight: "右",
}

var locationLabels = map[Location]string{
	LocationThroughHole:     "穿透",
	LocationUnloadingGroove: "卸荷槽",
	LocationOuter:           "外",
	LocationInner:           "内",
	LocationWheelSeat:       "轮座",
	LocationAxleBody:        "轴身",
}

// Label is the text remote services expect for the side.
func (d Direction) Label() string { return directionLabels[d] }

// Label is the text remote services expect for the region.
func (l Location) Label() string { return locationLabels[l] }
