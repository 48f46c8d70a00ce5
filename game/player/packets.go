package player

import (
	"encoding/json"
)

// Outbound packet types.
const (
	PktText           = "text"
	PktTradeRequested = "trade_requested"
	PktTradeStart     = "trade_start"
	PktTradeChanged   = "trade_changed"
	PktTradeAccepted  = "trade_accepted"
	PktTradeDone      = "trade_done"
	PktInventory      = "inventory_update"
	PktInvited        = "invited"
	PktCreateSuccess  = "create_success"
)

// Trade result codes carried by trade_done.
const (
	TradeSuccessful = 0
	TradeCanceled   = 1
	TradeError      = 2
)

// NoObject is the object id of a speaker that is not in the local world.
const NoObject int32 = -1

// Text is a chat line or server notice.
type Text struct {
	Name       string `json:"name"`
	ObjectID   int32  `json:"object_id"`
	Stars      int    `json:"stars"`
	BubbleTime int    `json:"bubble_time"`
	Recipient  string `json:"recipient"`
	Text       string `json:"text"`
	CleanText  string `json:"clean_text"`
	NameColor  int    `json:"name_color,omitempty"`
	TextColor  int    `json:"text_color,omitempty"`
}

// TradeItem is one slot in a trade_start packet.
type TradeItem struct {
	Item      uint16 `json:"item"`
	SlotType  int    `json:"slot_type"`
	Tradeable bool   `json:"tradeable"`
	Included  bool   `json:"included"`
}

func (s *PlayerSession) push(typ string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.Send(&Packet{Type: typ, Payload: payload})
}

// SendText delivers a chat line.
func (s *PlayerSession) SendText(t Text) { s.push(PktText, t) }

// SendInfo sends a neutral server notice.
func (s *PlayerSession) SendInfo(text string) {
	s.SendText(Text{ObjectID: NoObject, Stars: -1, Text: text, CleanText: text})
}

// SendError sends a notice shown as an error.
func (s *PlayerSession) SendError(text string) {
	s.SendText(Text{Name: "*Error*", ObjectID: NoObject, Stars: -1, Text: text, CleanText: text})
}

// SendTradeRequested tells the player that name wants to trade.
func (s *PlayerSession) SendTradeRequested(name string) {
	s.push(PktTradeRequested, map[string]string{"name": name})
}

// SendTradeStart opens the trade window.
func (s *PlayerSession) SendTradeStart(my []TradeItem, yourName string, your []TradeItem) {
	s.push(PktTradeStart, map[string]interface{}{
		"my_items": my, "your_name": yourName, "your_items": your,
	})
}

// SendTradeChanged carries the partner's new offer.
func (s *PlayerSession) SendTradeChanged(offer []bool) {
	s.push(PktTradeChanged, map[string]interface{}{"offer": offer})
}

// SendTradeAccepted tells the player the partner accepted these offers.
func (s *PlayerSession) SendTradeAccepted(my, your []bool) {
	s.push(PktTradeAccepted, map[string]interface{}{"my_offer": my, "your_offer": your})
}

// SendTradeDone closes the trade window.
func (s *PlayerSession) SendTradeDone(code int, description string) {
	s.push(PktTradeDone, map[string]interface{}{"code": code, "description": description})
}

// SendInventory pushes the persisted form of the player's slots.
func (s *PlayerSession) SendInventory(types []uint16) {
	s.push(PktInventory, map[string]interface{}{"items": types})
}

// Drain returns and removes every queued packet. Only meaningful for
// sessions without a connection.
func (s *PlayerSession) Drain() []*Packet {
	var out []*Packet
	for {
		select {
		case data := <-s.SendChan:
			var p Packet
			if json.Unmarshal(data, &p) == nil {
				out = append(out, &p)
			}
		default:
			return out
		}
	}
}

// SendInvite carries a world invitation.
func (s *PlayerSession) SendInvite(from, worldName string, worldID int) {
	s.push(PktInvited, map[string]interface{}{"name": from, "world": worldName, "world_id": worldID})
}

// SendCreateSuccess tells the client which object it controls after entering
// a world.
func (s *PlayerSession) SendCreateSuccess(objectID int32, charID int64, worldName string) {
	s.push(PktCreateSuccess, map[string]interface{}{
		"object_id": objectID,
		"char_id":   charID,
		"world":     worldName,
	})
}
