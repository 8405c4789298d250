// Package stanag4609 extracts MISB ST 0601 (UAS Datalink Local Set)
// metadata from STANAG 4609 transport streams. Synchronous metadata is
// carried in PES packets with stream_id 0xFC and a presentation timestamp;
// asynchronous metadata uses private_stream_1 (0xBD) without one.
package stanag4609

import "github.com/zsiec/klvts/internal/klv"

// UASLocalSetKey is the universal label of the UAS Datalink Local Set.
var UASLocalSetKey = []byte{
	0x06, 0x0E, 0x2B, 0x34, 0x02, 0x0B, 0x01, 0x01,
	0x0E, 0x01, 0x03, 0x01, 0x01, 0x00, 0x00, 0x00,
}

// Field names of the decoded UAS Datalink Local Set.
const (
	UASLocalSet = "UAS Datalink Local Set"

	Checksum                = "checksum"
	Timestamp               = "timestamp"
	MissionID               = "mission id"
	PlatformTailNumber      = "platform tail number"
	PlatformDesignation     = "platform designation"
	ImageSourceSensor       = "image source sensor"
	ImageCoordinateSystem   = "image coordinate system"
	SensorLatitude          = "sensor latitude"
	SensorLongitude         = "sensor longitude"
	SensorTrueAltitude      = "sensor true altitude"
	SlantRange              = "slant range"
	TargetWidth             = "target width"
	FrameCenterLatitude     = "frame center latitude"
	FrameCenterLongitude    = "frame center longitude"
	FrameCenterElevation    = "frame center elevation"
	OffsetCornerLatitude1   = "offset corner latitude 1"
	OffsetCornerLongitude1  = "offset corner longitude 1"
	OffsetCornerLatitude2   = "offset corner latitude 2"
	OffsetCornerLongitude2  = "offset corner longitude 2"
	OffsetCornerLatitude3   = "offset corner latitude 3"
	OffsetCornerLongitude3  = "offset corner longitude 3"
	OffsetCornerLatitude4   = "offset corner latitude 4"
	OffsetCornerLongitude4  = "offset corner longitude 4"
	TargetLocationLatitude  = "target location latitude"
	TargetLocationLongitude = "target location longitude"
	TargetLocationElevation = "target location elevation"
	GroundRange             = "ground range"
	PlatformCallSign        = "platform call sign"
	EventStartTime          = "event start time"
	OperationalMode         = "operational mode"
	CornerLatitude1         = "corner latitude 1"
	CornerLongitude1        = "corner longitude 1"
	CornerLatitude2         = "corner latitude 2"
	CornerLongitude2        = "corner longitude 2"
	CornerLatitude3         = "corner latitude 3"
	CornerLongitude3        = "corner longitude 3"
	CornerLatitude4         = "corner latitude 4"
	CornerLongitude4        = "corner longitude 4"

	SecurityLocalSet          = "security local metadata set"
	SecurityClassification    = "security classification"
	ClassifyingCountryMethod  = "country coding method"
	ClassifyingCountry        = "classifying country"
	ObjectCountryCodingMethod = "object country coding method"
	ObjectCountryCodes        = "object country codes"
)

const (
	maxInt32  = 1<<31 - 1
	maxUint16 = 1<<16 - 1
	maxUint32 = 1<<32 - 1
)

// UASContext is the dictionary for STANAG 4609 KLV payloads: a universal
// set holding the UAS Datalink Local Set.
var UASContext = newUASContext()

func newUASContext() *klv.Context {
	latitude := func(name string) klv.Element {
		return klv.IEFP(name, 4, true, -maxInt32, maxInt32, -90, 90)
	}
	longitude := func(name string) klv.Element {
		return klv.IEFP(name, 4, true, -maxInt32, maxInt32, -180, 180)
	}
	elevation := func(name string) klv.Element {
		return klv.IEFP(name, 2, false, 0, maxUint16, -900, 19000)
	}
	offset := func(name string) klv.Element {
		return klv.IEFP(name, 2, true, -(1<<15 - 1), 1<<15-1, -0.075, 0.075)
	}

	security := klv.NewContext(klv.KeyLength1, klv.LengthBER).
		AddTag(1, klv.Unsigned(SecurityClassification, 1)).
		AddTag(2, klv.Unsigned(ClassifyingCountryMethod, 1)).
		AddTag(3, klv.String(ClassifyingCountry)).
		AddTag(12, klv.Unsigned(ObjectCountryCodingMethod, 1)).
		AddTag(13, klv.String(ObjectCountryCodes))

	local := klv.NewContext(klv.KeyLength1, klv.LengthBER).
		AddTag(1, klv.Unsigned(Checksum, 2)).
		AddTag(2, klv.Unsigned(Timestamp, 8)).
		AddTag(3, klv.String(MissionID)).
		AddTag(4, klv.String(PlatformTailNumber)).
		AddTag(10, klv.String(PlatformDesignation)).
		AddTag(11, klv.String(ImageSourceSensor)).
		AddTag(12, klv.String(ImageCoordinateSystem)).
		AddTag(13, latitude(SensorLatitude)).
		AddTag(14, longitude(SensorLongitude)).
		AddTag(15, elevation(SensorTrueAltitude)).
		AddTag(21, klv.IEFP(SlantRange, 4, false, 0, maxUint32, 0, 5000000)).
		AddTag(22, klv.IEFP(TargetWidth, 2, false, 0, maxUint16, 0, 10000)).
		AddTag(23, latitude(FrameCenterLatitude)).
		AddTag(24, longitude(FrameCenterLongitude)).
		AddTag(25, elevation(FrameCenterElevation)).
		AddTag(26, offset(OffsetCornerLatitude1)).
		AddTag(27, offset(OffsetCornerLongitude1)).
		AddTag(28, offset(OffsetCornerLatitude2)).
		AddTag(29, offset(OffsetCornerLongitude2)).
		AddTag(30, offset(OffsetCornerLatitude3)).
		AddTag(31, offset(OffsetCornerLongitude3)).
		AddTag(32, offset(OffsetCornerLatitude4)).
		AddTag(33, offset(OffsetCornerLongitude4)).
		AddTag(40, latitude(TargetLocationLatitude)).
		AddTag(41, longitude(TargetLocationLongitude)).
		AddTag(42, elevation(TargetLocationElevation)).
		AddTag(48, klv.LocalSet(SecurityLocalSet, security)).
		AddTag(57, klv.IEFP(GroundRange, 4, false, 0, maxUint32, 0, 5000000)).
		AddTag(59, klv.String(PlatformCallSign)).
		AddTag(72, klv.Unsigned(EventStartTime, 8)).
		AddTag(77, klv.Unsigned(OperationalMode, 1)).
		AddTag(82, latitude(CornerLatitude1)).
		AddTag(83, longitude(CornerLongitude1)).
		AddTag(84, latitude(CornerLatitude2)).
		AddTag(85, longitude(CornerLongitude2)).
		AddTag(86, latitude(CornerLatitude3)).
		AddTag(87, longitude(CornerLongitude3)).
		AddTag(88, latitude(CornerLatitude4)).
		AddTag(89, longitude(CornerLongitude4))

	return klv.NewContext(klv.KeyLength16, klv.LengthBER).
		AddLabel(UASLocalSetKey, klv.LocalSet(UASLocalSet, local))
}
