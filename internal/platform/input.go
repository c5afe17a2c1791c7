package platform

// Linux input event types and codes used for multitouch injection
// (linux/input-event-codes.h).
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvAbs uint16 = 0x03

	SynReport uint16 = 0

	BtnTouch uint16 = 0x14a

	AbsMtSlot       uint16 = 0x2f
	AbsMtTouchMajor uint16 = 0x30
	AbsMtPositionX  uint16 = 0x35
	AbsMtPositionY  uint16 = 0x36
	AbsMtTrackingID uint16 = 0x39
	AbsMtPressure   uint16 = 0x3a

	InputPropDirect uint16 = 0x01

	// AbsCnt is the size of the absolute axis arrays in uinput_user_dev.
	AbsCnt = 0x40
)
