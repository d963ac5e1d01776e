package testutil

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// RPCNode is a mock JSON-RPC node answering the chain-level queries a wallet makes.
type RPCNode struct {
	*httptest.Server

	mu       sync.Mutex
	chainID  uint64
	balance  *big.Int
	gasPrice *big.Int
	calls    map[string]int
}

func StartRPCNode(chainID uint64) *RPCNode {
	n := &RPCNode{
		chainID:  chainID,
		balance:  big.NewInt(0),
		gasPrice: big.NewInt(1_000_000_000),
		calls:    make(map[string]int),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.handle))
	return n
}

func (n *RPCNode) SetBalance(balance *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balance = new(big.Int).Set(balance)
}

func (n *RPCNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *RPCNode) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	chainID, balance, gasPrice := n.chainID, n.balance, n.gasPrice
	n.mu.Unlock()

	switch req.Method {
	case "eth_chainId":
		writeHex(w, req.ID, new(big.Int).SetUint64(chainID))
	case "eth_getBalance":
		writeHex(w, req.ID, balance)
	case "eth_gasPrice":
		writeHex(w, req.ID, gasPrice)
	default:
		WriteRPCError(w, req.ID, -32601, "method not found: "+req.Method)
	}
}

func writeHex(w http.ResponseWriter, id json.RawMessage, v *big.Int) {
	result, _ := json.Marshal(hexutil.EncodeBig(v))
	WriteRPCResult(w, id, result)
}

// WriteRPCResult writes a JSON-RPC success response.
func WriteRPCResult(w http.ResponseWriter, id, result json.RawMessage) {
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"result":  result,
	})
}

// WriteRPCError writes a JSON-RPC error response.
func WriteRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	errJSON, _ := json.Marshal(map[string]interface{}{"code": code, "message": message})
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"error":   errJSON,
	})
}
