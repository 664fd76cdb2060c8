package deviceapi

import (
	"context"
	"encoding/binary"
	"encoding/base64"
	"fmt"

	"github.com/methings/brainctl/internal/models"
)

// UVC (USB Video Class) pan-tilt control constants, per the USB Video Class
// 1.5 spec's Camera Terminal unit: PAN_TILT_ABSOLUTE_CONTROL selector 0x0D,
// a SET_CUR/GET_CUR control transfer carrying two little-endian int32 values.
const (
	uvcRequestTypeIn  = 0xA1
	uvcRequestTypeOut = 0x21
	uvcSetCur         = 0x01
	uvcGetCur         = 0x81
	uvcPanTiltSelector = 0x0D

	uvcCSInterface   = 0x24
	vcInputTerminal  = 0x02
	vcInputTermType  = 0x0201 // VC_INPUT_TERMINAL, ITT_CAMERA
	vcInterfaceClass = 0x0E
	vcInterfaceSub   = 0x01
)

type virtualAction func(ctx context.Context, p *Proxy, payload map[string]any, identity string) (*models.ToolResult, error)

// uvcVirtualActions are verbs composed from usb.* primitives rather than
// forwarded directly to the peer: this proxy owns the byte layout, the
// peer only exposes raw USB control/bulk transfers.
var uvcVirtualActions = map[string]virtualAction{
	"uvc.ptz.get_absolute": uvcGetAbsolute,
	"uvc.ptz.set_absolute": uvcSetAbsolute,
	"uvc.ptz.nudge":        uvcNudge,
}

// camTerminal is a discovered UVC camera terminal: the VideoControl
// interface number and the terminal's entity id, both needed to build the
// wIndex field of a unit control transfer.
type camTerminal struct {
	vcInterface int
	entityID    int
}

// findCameraTerminal scans a device's raw USB descriptors for a
// VideoControl interface (class 0x0E, subclass 0x01) and, within it, an
// input terminal descriptor of type ITT_CAMERA (0x0201).
func findCameraTerminal(raw []byte) (camTerminal, bool) {
	var vcInterfaceNum = -1
	i := 0
	for i+2 <= len(raw) {
		length := int(raw[i])
		if length < 2 || i+length > len(raw) {
			break
		}
		descType := raw[i+1]

		switch {
		case descType == 0x04 && length >= 8: // INTERFACE descriptor
			ifaceClass := raw[i+5]
			ifaceSub := raw[i+6]
			if ifaceClass == vcInterfaceClass && ifaceSub == vcInterfaceSub {
				vcInterfaceNum = int(raw[i+2])
			} else {
				vcInterfaceNum = -1
			}
		case descType == uvcCSInterface && vcInterfaceNum >= 0 && length >= 8:
			subtype := raw[i+2]
			if subtype == vcInputTerminal {
				termType := binary.LittleEndian.Uint16(raw[i+4 : i+6])
				if int(termType) == vcInputTermType {
					entityID := int(raw[i+3])
					return camTerminal{vcInterface: vcInterfaceNum, entityID: entityID}, true
				}
			}
		}
		i += length
	}
	return camTerminal{}, false
}

// panTiltWIndex packs the entity id and VideoControl interface into the
// wIndex field a unit control transfer targets: (entity_id << 8) | vc_interface.
func panTiltWIndex(term camTerminal) int {
	return (term.entityID << 8) | term.vcInterface
}

func encodePanTiltPayload(pan, tilt int32) string {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pan))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(tilt))
	return base64.StdEncoding.EncodeToString(buf)
}

func decodePanTiltPayload(b []byte) (pan, tilt int32, ok bool) {
	if len(b) < 8 {
		return 0, 0, false
	}
	pan = int32(binary.LittleEndian.Uint32(b[0:4]))
	tilt = int32(binary.LittleEndian.Uint32(b[4:8]))
	return pan, tilt, true
}

// discoverTerminal fetches the raw descriptors of the device behind the
// caller-supplied handle and locates the camera terminal. It does not open
// or close the device: the handle must already be open, and it stays open.
func discoverTerminal(ctx context.Context, p *Proxy, handle string, identity string) (camTerminal, error) {
	res, err := p.dispatchPrimitive(ctx, "usb.raw_descriptors", map[string]any{"handle": handle}, identity)
	if err != nil {
		return camTerminal{}, err
	}
	if res.Status != models.ToolStatusOK {
		return camTerminal{}, fmt.Errorf("raw_descriptors: %s", res.Error)
	}
	encoded, _ := res.Data["descriptors_b64"].(string)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return camTerminal{}, fmt.Errorf("decode descriptors: %w", err)
	}
	term, ok := findCameraTerminal(raw)
	if !ok {
		return camTerminal{}, fmt.Errorf("no UVC camera terminal found")
	}
	return term, nil
}

func uvcGetAbsolute(ctx context.Context, p *Proxy, payload map[string]any, identity string) (*models.ToolResult, error) {
	handle, _ := payload["handle"].(string)
	term, err := discoverTerminal(ctx, p, handle, identity)
	if err != nil {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "uvc_discovery_failed", Detail: map[string]any{"message": err.Error()}}, nil
	}

	res, err := p.dispatchPrimitive(ctx, "usb.control_transfer", map[string]any{
		"handle":       handle,
		"request_type": uvcRequestTypeIn,
		"request":      uvcGetCur,
		"value":        uvcPanTiltSelector << 8,
		"index":        panTiltWIndex(term),
		"length":       8,
	}, identity)
	if err != nil || res.Status != models.ToolStatusOK {
		return res, err
	}

	encoded, _ := res.Data["data_b64"].(string)
	raw, decErr := base64.StdEncoding.DecodeString(encoded)
	if decErr != nil {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "uvc_decode_failed"}, nil
	}
	pan, tilt, ok := decodePanTiltPayload(raw)
	if !ok {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "uvc_short_payload"}, nil
	}
	return &models.ToolResult{Status: models.ToolStatusOK, Data: map[string]any{"pan": pan, "tilt": tilt}}, nil
}

func uvcSetAbsolute(ctx context.Context, p *Proxy, payload map[string]any, identity string) (*models.ToolResult, error) {
	handle, _ := payload["handle"].(string)
	pan := int32(toFloat(payload["pan"]))
	tilt := int32(toFloat(payload["tilt"]))

	term, err := discoverTerminal(ctx, p, handle, identity)
	if err != nil {
		return &models.ToolResult{Status: models.ToolStatusError, Error: "uvc_discovery_failed", Detail: map[string]any{"message": err.Error()}}, nil
	}

	return p.dispatchPrimitive(ctx, "usb.control_transfer", map[string]any{
		"handle":       handle,
		"request_type": uvcRequestTypeOut,
		"request":      uvcSetCur,
		"value":        uvcPanTiltSelector << 8,
		"index":        panTiltWIndex(term),
		"data_b64":     encodePanTiltPayload(pan, tilt),
	}, identity)
}

// uvcNudge reads the current position then applies a relative delta,
// composing get_absolute and set_absolute.
func uvcNudge(ctx context.Context, p *Proxy, payload map[string]any, identity string) (*models.ToolResult, error) {
	cur, err := uvcGetAbsolute(ctx, p, payload, identity)
	if err != nil || cur.Status != models.ToolStatusOK {
		return cur, err
	}
	pan, _ := cur.Data["pan"].(int32)
	tilt, _ := cur.Data["tilt"].(int32)

	dPan := int32(toFloat(payload["d_pan"]))
	dTilt := int32(toFloat(payload["d_tilt"]))

	return uvcSetAbsolute(ctx, p, map[string]any{
		"handle": payload["handle"],
		"pan":    pan + dPan,
		"tilt":   tilt + dTilt,
	}, identity)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
