package gateway

// Sungrow input register map (Modbus address = register number - 1).
const (
	regSerialNumber = 4989 // 4990-4999, string, 10 registers

	// Live block, read in one request from regBlockStart.
	regBlockStart        = 5002
	regDailyEnergy       = 5002 // U16, 0.1 kWh
	regTotalEnergy       = 5003 // U32, 0.1 kWh
	regInsideTemperature = 5007 // S16, 0.1 °C
	regMPPT1Voltage      = 5010 // U16, 0.1 V
	regMPPT1Current      = 5011 // U16, 0.01 A
	regMPPT2Voltage      = 5012 // U16, 0.1 V
	regMPPT2Current      = 5013 // U16, 0.01 A
	regPhaseAVoltage     = 5018 // U16, 0.1 V
	regPhaseACurrent     = 5022 // U16, 0.1 A
	regTotalActivePower  = 5030 // U32, W
	regRunningState      = 5037 // U16
	regBlockEnd          = regRunningState

	regBlockLength = regBlockEnd - regBlockStart + 1
)

const (
	stateStop       = 0x0000
	stateStandby    = 0x8000
	stateStartup    = 0x1300
	stateMPPT       = 0x1400
	stateFault      = 0x1500
	statePowerLimit = 0x1600
	stateShutdown   = 0x1700
)

func runningStateString(state uint16) string {
	switch state {
	case stateStop:
		return "stop"
	case stateStandby:
		return "standby"
	case stateStartup:
		return "starting"
	case stateMPPT:
		return "mppt"
	case stateFault:
		return "fault"
	case statePowerLimit:
		return "power_limiting"
	case stateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
