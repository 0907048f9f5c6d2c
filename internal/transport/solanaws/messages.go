package solanaws

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/stream"
	"github.com/mr-tron/base58"
)

const (
	methodAccountSubscribe   = "accountSubscribe"
	methodAccountUnsubscribe = "accountUnsubscribe"
	methodProgramSubscribe   = "programSubscribe"
	methodProgramUnsubscribe = "programUnsubscribe"

	methodAccountNotification = "accountNotification"
	methodProgramNotification = "programNotification"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// envelope 同时承载请求应答和订阅推送
type envelope struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params *struct {
		Subscription int64           `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type subscribeOptions struct {
	Encoding   string            `json:"encoding"`
	Commitment string            `json:"commitment,omitempty"`
	DataSlice  *stream.DataSlice `json:"dataSlice,omitempty"`
	Filters    []programFilter   `json:"filters,omitempty"`
}

type programFilter struct {
	DataSize uint64 `json:"dataSize"`
}

type accountValue struct {
	Lamports   uint64          `json:"lamports"`
	Owner      string          `json:"owner"`
	Data       json.RawMessage `json:"data"`
	Executable bool            `json:"executable"`
	RentEpoch  uint64          `json:"rentEpoch"`
}

type notificationContext struct {
	Slot uint64 `json:"slot"`
}

type accountNotification struct {
	Context notificationContext `json:"context"`
	Value   accountValue        `json:"value"`
}

type programNotification struct {
	Context notificationContext `json:"context"`
	Value   struct {
		Pubkey  string       `json:"pubkey"`
		Account accountValue `json:"account"`
	} `json:"value"`
}

// decodeNotification 把推送转为 RawMessage；accountNotification 不带地址，由订阅路由提供
func decodeNotification(method string, raw json.RawMessage, pubkey []byte) (*stream.RawMessage, error) {
	switch method {
	case methodAccountNotification:
		var n accountNotification
		if err := utils.SafeJsonUnmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		return toRawMessage(pubkey, n.Context.Slot, &n.Value)

	case methodProgramNotification:
		var n programNotification
		if err := utils.SafeJsonUnmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}
		key, err := base58.Decode(n.Value.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("pubkey %q: %w", n.Value.Pubkey, err)
		}
		return toRawMessage(key, n.Context.Slot, &n.Value.Account)

	default:
		return nil, fmt.Errorf("unsupported notification %q", method)
	}
}

func toRawMessage(pubkey []byte, slot uint64, v *accountValue) (*stream.RawMessage, error) {
	owner, err := base58.Decode(v.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner %q: %w", v.Owner, err)
	}
	data, err := decodeAccountData(v.Data)
	if err != nil {
		return nil, err
	}
	return &stream.RawMessage{
		Pubkey:     pubkey,
		Owner:      owner,
		Slot:       slot,
		Lamports:   v.Lamports,
		Data:       data,
		Executable: v.Executable,
		RentEpoch:  v.RentEpoch,
	}, nil
}

// decodeAccountData 支持 ["<payload>", "base64"|"base58"] 两种编码
func decodeAccountData(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var pair []string
	if err := utils.SafeJsonUnmarshal(raw, &pair); err != nil {
		return nil, fmt.Errorf("account data: %w", err)
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("account data: expected [payload, encoding], got %d elements", len(pair))
	}
	switch pair[1] {
	case "base64":
		return base64.StdEncoding.DecodeString(pair[0])
	case "base58":
		return base58.Decode(pair[0])
	default:
		return nil, fmt.Errorf("account data: unsupported encoding %q", pair[1])
	}
}
