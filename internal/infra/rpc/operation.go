package rpc

// NewHTTPOperation creates an Operation for a JSON-RPC call.
func NewHTTPOperation(method string, params []any) Operation {
	return Operation{
		Name:   method,
		Cost:   1,
		Params: params,
	}
}

// NewHTTPOperationWithCost creates an Operation with a custom quota cost.
// Heavy calls (full blocks with transactions, storage proofs) should carry
// a cost matching what providers bill for them.
func NewHTTPOperationWithCost(method string, params []any, cost int) Operation {
	return Operation{
		Name:   method,
		Cost:   cost,
		Params: params,
	}
}
