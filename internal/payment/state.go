package payment

// PaymentStatus is the client-side payment state.
type PaymentStatus string

const (
	StateIdle    PaymentStatus = "idle"
	StateLoading PaymentStatus = "loading"
	StateSuccess PaymentStatus = "success"
	StateError   PaymentStatus = "error"
)

// State is a snapshot of the client payment flow.
type State struct {
	SelectedPackage *Package      `json:"selectedPackage,omitempty"`
	Status          PaymentStatus `json:"status"`
	OrderID         string        `json:"orderId,omitempty"`
	ClientSecret    string        `json:"clientSecret,omitempty"`
	CreditsAdded    int           `json:"creditsAdded"`
	Error           string        `json:"error,omitempty"`
}

// InitialState is the idle state.
func InitialState() State { return State{Status: StateIdle} }

func (s State) clone() State {
	if s.SelectedPackage != nil {
		p := *s.SelectedPackage
		s.SelectedPackage = &p
	}
	return s
}

// ActionKind identifies a state machine input.
type ActionKind int

const (
	ActSelectPackage ActionKind = iota + 1
	ActInitiate
	ActSessionCreated
	ActConfirm
	ActConfirmSucceeded
	ActFail
	ActReset
	ActClearError
)

// Action is a state machine input.
type Action struct {
	Kind         ActionKind
	PackageID    string
	OrderID      string
	ClientSecret string
	Credits      int
	Message      string
	Result       ConfirmResult
}

// EffectKind identifies work the caller must perform after a transition.
type EffectKind int

const (
	EffectCreateSession EffectKind = iota + 1
	EffectConfirm
	EffectReportError
	EffectNotifySuccess
)

// Effect is a side effect requested by a transition.
type Effect struct {
	Kind      EffectKind
	PackageID string
	OrderID   string
	Message   string
	Result    ConfirmResult
}

// Transition applies a to s and returns the next state plus the effects to
// run. Inputs that are not legal in the current state leave it unchanged and
// request nothing.
//
//	idle    --initiate-->  loading
//	error   --initiate-->  loading
//	loading --succeeded--> success
//	error   --succeeded--> success
//	loading --fail-->      error
//	any     --reset-->     idle
func Transition(s State, a Action) (State, []Effect) {
	s = s.clone()
	switch a.Kind {
	case ActSelectPackage:
		if s.Status != StateIdle {
			return s, nil
		}
		pkg, ok := GetPackage(a.PackageID)
		if !ok {
			s.Error = "Invalid package ID"
			return s, nil
		}
		s.SelectedPackage = &pkg
		s.Error = ""
		return s, nil

	case ActInitiate:
		if s.Status != StateIdle && s.Status != StateError {
			return s, nil
		}
		s.Status = StateLoading
		s.OrderID, s.ClientSecret, s.Error, s.CreditsAdded = "", "", "", 0
		if pkg, ok := GetPackage(a.PackageID); ok {
			s.SelectedPackage = &pkg
		}
		return s, []Effect{{Kind: EffectCreateSession, PackageID: a.PackageID}}

	case ActSessionCreated:
		if s.Status != StateLoading {
			return s, nil
		}
		s.OrderID, s.ClientSecret = a.OrderID, a.ClientSecret
		return s, nil

	case ActConfirm:
		if s.Status == StateSuccess {
			return s, nil
		}
		s.Status = StateLoading
		s.Error = ""
		return s, []Effect{{Kind: EffectConfirm, OrderID: a.OrderID}}

	case ActConfirmSucceeded:
		// A confirmation that lands after a reported failure still granted
		// the credits.
		if s.Status != StateLoading && s.Status != StateError {
			return s, nil
		}
		s.Status = StateSuccess
		s.CreditsAdded = a.Credits
		if a.OrderID != "" {
			s.OrderID = a.OrderID
		}
		s.Error = ""
		return s, []Effect{{Kind: EffectNotifySuccess, OrderID: s.OrderID, Result: a.Result}}

	case ActFail:
		if s.Status != StateLoading && s.Status != StateError {
			return s, []Effect{{Kind: EffectReportError, Message: a.Message}}
		}
		s.Status = StateError
		s.Error = a.Message
		s.CreditsAdded = 0
		return s, []Effect{{Kind: EffectReportError, Message: a.Message}}

	case ActReset:
		return InitialState(), nil

	case ActClearError:
		s.Error = ""
		if s.Status == StateError {
			s.Status = StateIdle
		}
		return s, nil
	}
	return s, nil
}
