package cart

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// EncodeSnapshot encodes s as {"cart":[...],"gifts":[...]}.
func EncodeSnapshot(s Snapshot) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("cart", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range s.Cart {
					encodeLine(e, l)
				}
			})
		})
		e.Field("gifts", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, g := range s.Gifts {
					encodeGift(e, g)
				}
			})
		})
	})
	return e.Bytes()
}

func encodeLine(e *jx.Encoder, l LineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("package_option_id", func(e *jx.Encoder) { e.Str(l.PackageOptionID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
	})
}

func encodeGift(e *jx.Encoder, g GiftLineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(g.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(g.Name) })
		e.Field("price", func(e *jx.Encoder) { e.Str(g.Price.StringFixed(2)) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(g.Quantity) })
		if r := g.Recipient; r != nil {
			e.Field("recipient", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("name", func(e *jx.Encoder) { e.Str(r.Name) })
					e.Field("email", func(e *jx.Encoder) { e.Str(r.Email) })
					e.Field("message", func(e *jx.Encoder) { e.Str(r.Message) })
				})
			})
		}
	})
}

// DecodeSnapshot decodes a stored blob. Entries that fail to decode, or that
// violate line invariants (empty id, non-positive quantity, duplicate key), are
// dropped and counted in skipped. An error means the blob as a whole could not
// be read; the returned snapshot then holds whatever was decoded before it.
func DecodeSnapshot(data []byte) (s Snapshot, skipped int, err error) {
	if len(data) == 0 {
		return Snapshot{}, 0, nil
	}

	seenLines := map[[2]string]bool{}
	seenGifts := map[string]bool{}

	d := jx.DecodeBytes(data)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "cart":
			return decodeEach(d, &skipped, func(raw jx.Raw) bool {
				l, err := decodeLine(raw)
				k := [2]string{l.ProductID, l.PackageOptionID}
				if err != nil || seenLines[k] {
					return false
				}
				seenLines[k] = true
				s.Cart = append(s.Cart, l)
				return true
			})
		case "gifts":
			return decodeEach(d, &skipped, func(raw jx.Raw) bool {
				g, err := decodeGift(raw)
				if err != nil || seenGifts[g.ID] {
					return false
				}
				seenGifts[g.ID] = true
				s.Gifts = append(s.Gifts, g)
				return true
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return s, skipped, errors.Wrap(err, "decode cart snapshot")
	}
	return s, skipped, nil
}

// decodeEach walks an array, handing every element to accept as raw JSON so
// that one malformed entry cannot abort the rest. A null array is empty.
func decodeEach(d *jx.Decoder, skipped *int, accept func(raw jx.Raw) bool) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.Arr(func(d *jx.Decoder) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		if !accept(raw) {
			*skipped++
		}
		return nil
	})
}

func decodeLine(raw jx.Raw) (l LineItem, err error) {
	err = jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			l.ProductID, err = d.Str()
		case "package_option_id":
			l.PackageOptionID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return l, err
	}
	if l.ProductID == "" || l.Quantity <= 0 {
		return l, errors.New("invalid cart line")
	}
	return l, nil
}

func decodeGift(raw jx.Raw) (g GiftLineItem, err error) {
	err = jx.DecodeBytes(raw).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			g.ID, err = d.Str()
		case "name":
			g.Name, err = d.Str()
		case "price":
			g.Price, err = decodeMoney(d)
		case "quantity":
			g.Quantity, err = d.Int()
		case "recipient":
			g.Recipient, err = decodeRecipient(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return g, err
	}
	if g.ID == "" || g.Quantity <= 0 || g.Price.IsNegative() {
		return g, errors.New("invalid gift line")
	}
	return g, nil
}

// decodeMoney accepts both "12.50" and 12.5.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("unexpected price type %s", d.Next())
	}
}

func decodeRecipient(d *jx.Decoder) (*Recipient, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var r Recipient
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			r.Name, err = d.Str()
		case "email":
			r.Email, err = d.Str()
		case "message":
			r.Message, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}
