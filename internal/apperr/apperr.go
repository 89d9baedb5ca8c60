// Package apperr описывает закрытый набор видов ошибок денежного ядра.
//
// Вызывающий код различает ошибки только по Kind, никогда по тексту.
package apperr

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку бизнес-операции.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidAmount
	KindInsufficientFunds
	KindSettlementExceedsHold
	KindAlreadyDecided
	KindRefAlreadySettled
	KindHoldNotFound
	KindSignatureInvalid
	KindPayloadExpired
	KindAmountMismatch
	KindBalanceRowMissing
	KindNotFound
	KindConflict
	KindOnHold
	KindExpired
	KindRailDisabled
	KindInvalidStatus
	KindAlreadyPurchased
	KindInvalidInput
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindInvalidAmount:         "invalid_amount",
	KindInsufficientFunds:     "insufficient_funds",
	KindSettlementExceedsHold: "settlement_exceeds_hold",
	KindAlreadyDecided:        "already_decided",
	KindRefAlreadySettled:     "ref_already_settled",
	KindHoldNotFound:          "hold_not_found",
	KindSignatureInvalid:      "signature_invalid",
	KindPayloadExpired:        "payload_expired",
	KindAmountMismatch:        "amount_mismatch",
	KindBalanceRowMissing:     "balance_row_missing",
	KindNotFound:              "not_found",
	KindConflict:              "conflict",
	KindOnHold:                "on_hold",
	KindExpired:               "expired",
	KindRailDisabled:          "rail_disabled",
	KindInvalidStatus:         "invalid_status",
	KindAlreadyPurchased:      "already_purchased",
	KindInvalidInput:          "invalid_input",
}

// String возвращает машинное имя вида ошибки.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error - ошибка бизнес-операции с видом и человекочитаемым сообщением.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is позволяет сравнивать ошибки по виду: errors.Is(err, apperr.InsufficientFunds).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New создаёт ошибку указанного вида.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap создаёт ошибку указанного вида поверх исходной.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf возвращает вид ошибки или KindUnknown для прочих ошибок.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Эталонные ошибки для сравнения через errors.Is.
var (
	InvalidAmount         = &Error{Kind: KindInvalidAmount, Msg: "invalid amount"}
	InsufficientFunds     = &Error{Kind: KindInsufficientFunds, Msg: "insufficient available balance"}
	SettlementExceedsHold = &Error{Kind: KindSettlementExceedsHold, Msg: "actual cost exceeds hold amount"}
	AlreadyDecided        = &Error{Kind: KindAlreadyDecided, Msg: "withdrawal already decided"}
	RefAlreadySettled     = &Error{Kind: KindRefAlreadySettled, Msg: "reference already settled"}
	HoldNotFound          = &Error{Kind: KindHoldNotFound, Msg: "hold not found"}
	SignatureInvalid      = &Error{Kind: KindSignatureInvalid, Msg: "invalid payload signature"}
	PayloadExpired        = &Error{Kind: KindPayloadExpired, Msg: "payload expired"}
	AmountMismatch        = &Error{Kind: KindAmountMismatch, Msg: "amount mismatch"}
	BalanceRowMissing     = &Error{Kind: KindBalanceRowMissing, Msg: "balance row not found"}
	NotFound              = &Error{Kind: KindNotFound, Msg: "not found"}
	Conflict              = &Error{Kind: KindConflict, Msg: "conflict"}
	OnHold                = &Error{Kind: KindOnHold, Msg: "on hold"}
	Expired               = &Error{Kind: KindExpired, Msg: "expired"}
	RailDisabled          = &Error{Kind: KindRailDisabled, Msg: "payment rail disabled"}
	InvalidStatus         = &Error{Kind: KindInvalidStatus, Msg: "invalid status"}
	AlreadyPurchased      = &Error{Kind: KindAlreadyPurchased, Msg: "already purchased"}
	InvalidInput          = &Error{Kind: KindInvalidInput, Msg: "invalid input"}
)
