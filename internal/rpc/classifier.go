// Package rpc classifies provider methods for approval routing.
package rpc

import "strings"

// Category is the routing class of an RPC method
type Category string

const (
	Read       Category = "read"
	Write      Category = "write"
	Simulation Category = "simulation"
	Unknown    Category = "unknown"
)

var readMethods = map[string]struct{}{
	"eth_chainId":                             {},
	"net_version":                             {},
	"net_listening":                           {},
	"net_peerCount":                           {},
	"web3_clientVersion":                      {},
	"web3_sha3":                               {},
	"eth_protocolVersion":                     {},
	"eth_syncing":                             {},
	"eth_accounts":                            {},
	"eth_coinbase":                            {},
	"eth_blockNumber":                         {},
	"eth_getBalance":                          {},
	"eth_getCode":                             {},
	"eth_getStorageAt":                        {},
	"eth_getProof":                            {},
	"eth_getTransactionCount":                 {},
	"eth_gasPrice":                            {},
	"eth_maxPriorityFeePerGas":                {},
	"eth_feeHistory":                          {},
	"eth_blobBaseFee":                         {},
	"eth_getBlockByHash":                      {},
	"eth_getBlockByNumber":                    {},
	"eth_getBlockReceipts":                    {},
	"eth_getBlockTransactionCountByHash":      {},
	"eth_getBlockTransactionCountByNumber":    {},
	"eth_getUncleByBlockHashAndIndex":         {},
	"eth_getUncleByBlockNumberAndIndex":       {},
	"eth_getUncleCountByBlockHash":            {},
	"eth_getUncleCountByBlockNumber":          {},
	"eth_getTransactionByHash":                {},
	"eth_getTransactionByBlockHashAndIndex":   {},
	"eth_getTransactionByBlockNumberAndIndex": {},
	"eth_getTransactionReceipt":               {},
	"eth_getLogs":                             {},
	"eth_newFilter":                           {},
	"eth_newBlockFilter":                      {},
	"eth_newPendingTransactionFilter":         {},
	"eth_getFilterChanges":                    {},
	"eth_getFilterLogs":                       {},
	"eth_uninstallFilter":                     {},
	"wallet_getPermissions":                   {},
}

var writeMethods = map[string]struct{}{
	"eth_requestAccounts":        {},
	"eth_sendTransaction":        {},
	"eth_sendRawTransaction":     {},
	"eth_signTransaction":        {},
	"eth_sign":                   {},
	"personal_sign":              {},
	"eth_signTypedData":          {},
	"eth_signTypedData_v3":       {},
	"eth_signTypedData_v4":       {},
	"wallet_addEthereumChain":    {},
	"wallet_switchEthereumChain": {},
	"wallet_watchAsset":          {},
	"wallet_requestPermissions":  {},
	"wallet_revokePermissions":   {},
	"wallet_sendCalls":           {},
}

var simulationMethods = map[string]struct{}{
	"eth_estimateGas":        {},
	"eth_call":               {},
	"eth_createAccessList":   {},
	"eth_simulateV1":         {},
	"debug_traceCall":        {},
	"debug_traceTransaction": {},
}

// identityMethods reveal which accounts a domain is connected to
var identityMethods = map[string]struct{}{
	"eth_accounts":          {},
	"eth_coinbase":          {},
	"wallet_getPermissions": {},
}

// Classify maps a method name to its routing category
func Classify(method string) Category {
	if _, ok := writeMethods[method]; ok {
		return Write
	}
	if _, ok := simulationMethods[method]; ok {
		return Simulation
	}
	if strings.HasPrefix(method, "trace_") || strings.HasPrefix(method, "debug_trace") {
		return Simulation
	}
	if _, ok := readMethods[method]; ok {
		return Read
	}
	return Unknown
}

// RequiresApproval reports whether a category must go through the approval UI.
// Unknown methods are never executed as reads.
func RequiresApproval(c Category) bool {
	return c == Write || c == Unknown
}

// IsIdentityRevealing reports whether method exposes connected accounts
func IsIdentityRevealing(method string) bool {
	_, ok := identityMethods[method]
	return ok
}

// Describe returns the phrase shown in the approval prompt, e.g.
// "example.com wants to send a transaction".
func Describe(method string) string {
	switch method {
	case "eth_requestAccounts", "wallet_requestPermissions":
		return "connect to your wallet"
	case "eth_sendTransaction", "eth_sendRawTransaction", "wallet_sendCalls":
		return "send a transaction"
	case "eth_signTransaction":
		return "sign a transaction"
	case "eth_sign", "personal_sign":
		return "sign a message"
	case "eth_signTypedData", "eth_signTypedData_v3", "eth_signTypedData_v4":
		return "sign typed data"
	case "wallet_switchEthereumChain":
		return "switch networks"
	case "wallet_addEthereumChain":
		return "add a new network"
	case "wallet_watchAsset":
		return "add a token to your wallet"
	case "wallet_revokePermissions":
		return "disconnect from your wallet"
	default:
		return "perform an action"
	}
}
