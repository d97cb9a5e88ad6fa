// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType identifies a guided data-collection dialog.
type FlowType string

// Flow type constants.
const (
	FlowTypeIndividualRegistration FlowType = "individual_registration"
	FlowTypeBusinessRegistration   FlowType = "business_registration"
	FlowTypeCollectMoney           FlowType = "collect_money"
	FlowTypeFiatToCrypto           FlowType = "fiat_to_crypto"
	FlowTypeExchangeRates          FlowType = "exchange_rates"
)

// FlowPriority is the order in which active flows claim an inbound message.
var FlowPriority = []FlowType{
	FlowTypeIndividualRegistration,
	FlowTypeBusinessRegistration,
	FlowTypeCollectMoney,
	FlowTypeFiatToCrypto,
	FlowTypeExchangeRates,
}

// IsValid reports whether ft is a known flow type.
func (ft FlowType) IsValid() bool {
	for _, known := range FlowPriority {
		if ft == known {
			return true
		}
	}
	return false
}

// IsRegistration reports whether ft creates an account.
func (ft FlowType) IsRegistration() bool {
	return ft == FlowTypeIndividualRegistration || ft == FlowTypeBusinessRegistration
}

// UserType distinguishes individual and business accounts.
type UserType string

const (
	UserTypeIndividual UserType = "individual"
	UserTypeBusiness   UserType = "business"
)

// RegistrationFlow returns the registration flow for the user type.
func (ut UserType) RegistrationFlow() FlowType {
	if ut == UserTypeBusiness {
		return FlowTypeBusinessRegistration
	}
	return FlowTypeIndividualRegistration
}

// MarkerKind names a short-lived session hint stored outside the flow machinery.
type MarkerKind string

// Marker kinds. The pending kinds are consulted by the router in this order.
const (
	MarkerPendingVerification     MarkerKind = "pending_verification"
	MarkerPendingRegistrationType MarkerKind = "pending_registration_type"
	MarkerPendingMoneyIntent      MarkerKind = "pending_money_intent"
	MarkerSession                 MarkerKind = "session"
	MarkerDocument                MarkerKind = "document"
	MarkerHistory                 MarkerKind = "history"
)

// PendingMarkers lists the markers that hold an unanswered question, in routing order.
var PendingMarkers = []MarkerKind{
	MarkerPendingVerification,
	MarkerPendingRegistrationType,
	MarkerPendingMoneyIntent,
}

// AllMarkers lists every marker kind kept per user.
var AllMarkers = []MarkerKind{
	MarkerPendingVerification,
	MarkerPendingRegistrationType,
	MarkerPendingMoneyIntent,
	MarkerSession,
	MarkerDocument,
	MarkerHistory,
}

// Intent is a classified user intent.
type Intent string

const (
	IntentSendMoney    Intent = "send_money"
	IntentCollectMoney Intent = "collect_money"
	IntentExchangeRate Intent = "exchange_rate"
	IntentRegister     Intent = "register"
	IntentGeneral      Intent = "general"
)

// Intents is the closed label set a classifier may answer with.
var Intents = []Intent{IntentSendMoney, IntentCollectMoney, IntentExchangeRate, IntentRegister, IntentGeneral}

// IsMoney reports whether the intent needs a verified account.
func (i Intent) IsMoney() bool {
	return i == IntentSendMoney || i == IntentCollectMoney
}

// FlowType returns the flow that serves a money intent.
func (i Intent) FlowType() FlowType {
	switch i {
	case IntentCollectMoney:
		return FlowTypeCollectMoney
	case IntentSendMoney:
		return FlowTypeFiatToCrypto
	case IntentExchangeRate:
		return FlowTypeExchangeRates
	}
	return ""
}
