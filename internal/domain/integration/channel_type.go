package integration

import "strings"

// ChannelType identifies an integration implementation
type ChannelType string

const (
	ChannelTypeEmail       ChannelType = "email"
	ChannelTypeAmoCRM      ChannelType = "amocrm"
	ChannelTypeBitrix24    ChannelType = "bitrix24"
	ChannelTypeTelegram    ChannelType = "telegram"
	ChannelTypeWebhooks    ChannelType = "webhooks"
	ChannelTypeRetailCRM   ChannelType = "retailcrm"
	ChannelTypeMailchimp   ChannelType = "mailchimp"
	ChannelTypeGetResponse ChannelType = "getresponse"
	ChannelTypeSendPulse   ChannelType = "sendpulse"
	ChannelTypeUniSender   ChannelType = "unisender"
	ChannelTypeUonTravel   ChannelType = "uontravel"
	ChannelTypeLpTracker   ChannelType = "lptracker"
)

// AllChannelTypes lists every known channel type in a stable order
var AllChannelTypes = []ChannelType{
	ChannelTypeAmoCRM,
	ChannelTypeBitrix24,
	ChannelTypeEmail,
	ChannelTypeGetResponse,
	ChannelTypeLpTracker,
	ChannelTypeMailchimp,
	ChannelTypeRetailCRM,
	ChannelTypeSendPulse,
	ChannelTypeTelegram,
	ChannelTypeUniSender,
	ChannelTypeUonTravel,
	ChannelTypeWebhooks,
}

// BatchChannelTypes are the channel types eligible for automatic fan-out
var BatchChannelTypes = []ChannelType{
	ChannelTypeEmail,
	ChannelTypeAmoCRM,
	ChannelTypeBitrix24,
	ChannelTypeTelegram,
	ChannelTypeWebhooks,
	ChannelTypeRetailCRM,
	ChannelTypeMailchimp,
}

// ParseChannelType normalizes and validates a channel type code
func ParseChannelType(s string) (ChannelType, error) {
	t := ChannelType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", NewUnsupportedTypeError(s)
	}
	return t, nil
}

// IsValid returns true if the channel type is known
func (t ChannelType) IsValid() bool {
	for _, known := range AllChannelTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsBatchSupported returns true if the type takes part in automatic fan-out
func (t ChannelType) IsBatchSupported() bool {
	for _, known := range BatchChannelTypes {
		if t == known {
			return true
		}
	}
	return false
}

// String returns the string representation of ChannelType
func (t ChannelType) String() string {
	return string(t)
}

// DisplayName returns the provider name as shown to operators
func (t ChannelType) DisplayName() string {
	switch t {
	case ChannelTypeEmail:
		return "Email"
	case ChannelTypeAmoCRM:
		return "AmoCRM"
	case ChannelTypeBitrix24:
		return "Bitrix24"
	case ChannelTypeTelegram:
		return "Telegram"
	case ChannelTypeWebhooks:
		return "Webhooks"
	case ChannelTypeRetailCRM:
		return "RetailCRM"
	case ChannelTypeMailchimp:
		return "Mailchimp"
	case ChannelTypeGetResponse:
		return "GetResponse"
	case ChannelTypeSendPulse:
		return "SendPulse"
	case ChannelTypeUniSender:
		return "UniSender"
	case ChannelTypeUonTravel:
		return "UonTravel"
	case ChannelTypeLpTracker:
		return "LpTracker"
	default:
		return string(t)
	}
}

