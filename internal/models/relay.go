package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags the variants exchanged through the relay.
type MessageType string

const (
	TypeNewItem            MessageType = "new-item"
	TypeManualResult       MessageType = "manual-result"
	TypeMarketPriceRequest MessageType = "market-price-request"
	TypeMarketPriceResult  MessageType = "market-price-result"
)

// Tags older pricing workers still use; read as their market-price-* forms.
var legacyTypes = map[MessageType]MessageType{
	"eu-market-request": TypeMarketPriceRequest,
	"eu-market-result":  TypeMarketPriceResult,
}

var (
	ErrMalformedMessage   = errors.New("malformed relay message")
	ErrUnknownMessageType = errors.New("unknown relay message type")
)

// RelayMessage is implemented by every variant that crosses the relay.
type RelayMessage interface {
	MessageType() MessageType
}

// NewItemNotice tells reviewers an item is waiting for manual review.
type NewItemNotice struct {
	ItemID string `json:"item_id"`
}

// ManualResultNotice carries a reviewer's verdict.
type ManualResultNotice struct {
	ItemID       string       `json:"item_id"`
	ManualStatus ManualStatus `json:"manual_status"`
}

// MarketPriceRequest asks a pricing worker for offers in other marketplaces.
type MarketPriceRequest struct {
	RequestID string   `json:"request_id"`
	ItemID    string   `json:"item_id"`
	Markets   []string `json:"markets"`
}

type MarketPrice struct {
	Market   string  `json:"market"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
}

// MarketPriceResult answers a MarketPriceRequest with the same RequestID.
type MarketPriceResult struct {
	RequestID string        `json:"request_id"`
	ItemID    string        `json:"item_id"`
	Prices    []MarketPrice `json:"prices"`
}

func (NewItemNotice) MessageType() MessageType      { return TypeNewItem }
func (ManualResultNotice) MessageType() MessageType { return TypeManualResult }
func (MarketPriceRequest) MessageType() MessageType { return TypeMarketPriceRequest }
func (MarketPriceResult) MessageType() MessageType  { return TypeMarketPriceResult }

// envelope mirrors the wire layout. Reviewer tooling still sends "asin"
// instead of "item_id", so both are read.
type envelope struct {
	Type         MessageType   `json:"type"`
	ItemID       string        `json:"item_id,omitempty"`
	ASIN         string        `json:"asin,omitempty"`
	ManualStatus ManualStatus  `json:"manual_status,omitempty"`
	RequestID    string        `json:"request_id,omitempty"`
	Markets      []string      `json:"markets,omitempty"`
	Prices       []MarketPrice `json:"prices,omitempty"`
}

func (e envelope) itemID() string {
	if e.ItemID != "" {
		return e.ItemID
	}
	return e.ASIN
}

// DecodeRelayMessage parses a JSON frame into its concrete variant. Unknown
// tags return ErrUnknownMessageType; anything unparseable or missing its
// required fields returns ErrMalformedMessage.
func DecodeRelayMessage(data []byte) (RelayMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	id := env.itemID()
	if t, ok := legacyTypes[env.Type]; ok {
		env.Type = t
	}

	switch env.Type {
	case TypeNewItem:
		if id == "" {
			return nil, fmt.Errorf("%w: new-item without item_id", ErrMalformedMessage)
		}
		return NewItemNotice{ItemID: id}, nil
	case TypeManualResult:
		if id == "" || !env.ManualStatus.Valid() {
			return nil, fmt.Errorf("%w: manual-result needs item_id and a valid manual_status", ErrMalformedMessage)
		}
		return ManualResultNotice{ItemID: id, ManualStatus: env.ManualStatus}, nil
	case TypeMarketPriceRequest:
		if id == "" {
			return nil, fmt.Errorf("%w: market-price-request without item_id", ErrMalformedMessage)
		}
		return MarketPriceRequest{RequestID: env.RequestID, ItemID: id, Markets: env.Markets}, nil
	case TypeMarketPriceResult:
		if id == "" {
			return nil, fmt.Errorf("%w: market-price-result without item_id", ErrMalformedMessage)
		}
		return MarketPriceResult{RequestID: env.RequestID, ItemID: id, Prices: env.Prices}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

// EncodeRelayMessage writes msg with its type tag.
func EncodeRelayMessage(msg RelayMessage) ([]byte, error) {
	env := envelope{Type: msg.MessageType()}
	switch m := msg.(type) {
	case NewItemNotice:
		env.ItemID = m.ItemID
	case ManualResultNotice:
		env.ItemID = m.ItemID
		env.ManualStatus = m.ManualStatus
	case MarketPriceRequest:
		env.ItemID = m.ItemID
		env.RequestID = m.RequestID
		env.Markets = m.Markets
	case MarketPriceResult:
		env.ItemID = m.ItemID
		env.RequestID = m.RequestID
		env.Prices = m.Prices
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, msg)
	}
	return json.Marshal(env)
}
