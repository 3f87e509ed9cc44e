package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionVerb names a chat button. Action ids travel as "<verb>:<order id>".
type ActionVerb string

const (
	VerbAcceptOrder      ActionVerb = "accept_order"
	VerbRejectOrder      ActionVerb = "reject_order"
	VerbArrived          ActionVerb = "arrived"
	VerbPresenceYes      ActionVerb = "presence_yes"
	VerbPresenceNo       ActionVerb = "presence_no"
	VerbFinalPresenceYes ActionVerb = "final_presence_yes"
	VerbFinalPresenceNo  ActionVerb = "final_presence_no"
	VerbSubmitPrice      ActionVerb = "submit_price"
	VerbAcceptPrice      ActionVerb = "accept_price"
	VerbRejectPrice      ActionVerb = "reject_price"
	VerbPayCard          ActionVerb = "pay_card"
	VerbPayCash          ActionVerb = "pay_cash"
	VerbCardReceiptSent  ActionVerb = "card_receipt_sent"
	VerbCashPaid         ActionVerb = "cash_paid"
	VerbCashReceived     ActionVerb = "cash_received"
	VerbCancelOrder      ActionVerb = "cancel_order"
)

func NewAction(label string, verb ActionVerb, orderID int64) Action {
	return Action{Label: label, ID: string(verb) + ":" + strconv.FormatInt(orderID, 10)}
}

// ParseActionID splits an action id into its verb and order id.
func ParseActionID(id string) (ActionVerb, int64, error) {
	verb, rawOrder, ok := strings.Cut(strings.TrimSpace(id), ":")
	if !ok || verb == "" {
		return "", 0, fmt.Errorf("malformed action id %q", id)
	}
	orderID, err := strconv.ParseInt(rawOrder, 10, 64)
	if err != nil || orderID <= 0 {
		return "", 0, fmt.Errorf("malformed order id in action %q", id)
	}
	return ActionVerb(verb), orderID, nil
}
