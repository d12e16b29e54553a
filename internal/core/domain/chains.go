package domain

// Ecosystem identifies the protocol family a chain belongs to. Routing and
// signing switch exhaustively over the two values.
type Ecosystem string

const (
	EcosystemEVM       Ecosystem = "evm"
	EcosystemSubstrate Ecosystem = "substrate"
)

type ChainID string
type ChainName string

const (
	// EVM chain IDs (decimal network id, EIP-155)
	ChainIDEthereum  ChainID = "1"
	ChainIDOptimism  ChainID = "10"
	ChainIDBSC       ChainID = "56"
	ChainIDPolygon   ChainID = "137"
	ChainIDZkSync    ChainID = "324"
	ChainIDAstar     ChainID = "592"
	ChainIDMoonbeam  ChainID = "1284"
	ChainIDBase      ChainID = "8453"
	ChainIDArbitrum  ChainID = "42161"
	ChainIDAvalanche ChainID = "43114"

	// Substrate chain IDs (genesis hash)
	ChainIDPolkadot ChainID = "0x91b171bb158e2d3848fa23a9f1c25182fb8e20313b2c1eb49219da7a70ce90c3"
	ChainIDKusama   ChainID = "0xb0a8d493285c2df73290dfb7e61f870f17b41801197a149ca93654499ea3dafe"
	ChainIDWestend  ChainID = "0xe143f23803ac50e8f6f8e62695d1ce9e4e1d68aa36c1cd2cfd15340213f3423e"
	ChainIDAcala    ChainID = "0xfc41b9bd8ef8fe53d58c7ea67c794c7ec9a73daf05e6d54b14ff6342c99ba64c"
	ChainIDPhala    ChainID = "0x1bb969d85965e4bb5a651abbedf21a54b6b31a21f66b5401cc3f1e286268d736"
	ChainIDBifrost  ChainID = "0x262e1b2ad728475fd6fe88e62d34c200abe6fd693931ddad144059b1eb884e5b"

	// Chain Names (Internal Codes)
	ChainNameEthereum  ChainName = "ETHEREUM_MAINNET"
	ChainNameOptimism  ChainName = "OPTIMISM_MAINNET"
	ChainNameBSC       ChainName = "BSC_MAINNET"
	ChainNamePolygon   ChainName = "POLYGON_MAINNET"
	ChainNameZkSync    ChainName = "ZKSYNC_ERA"
	ChainNameAstar     ChainName = "ASTAR"
	ChainNameMoonbeam  ChainName = "MOONBEAM"
	ChainNameBase      ChainName = "BASE_MAINNET"
	ChainNameArbitrum  ChainName = "ARBITRUM_ONE"
	ChainNameAvalanche ChainName = "AVALANCHE_C"
	ChainNamePolkadot  ChainName = "POLKADOT"
	ChainNameKusama    ChainName = "KUSAMA"
	ChainNameWestend   ChainName = "WESTEND"
	ChainNameAcala     ChainName = "ACALA"
	ChainNamePhala     ChainName = "PHALA"
	ChainNameBifrost   ChainName = "BIFROST"
)

// ChainInfo describes a supported network. SS58Prefix is meaningful only for
// Substrate chains; FinalityDepth is the default confirmation depth for EVM
// chains (Substrate chains rely on finalized heads instead).
type ChainInfo struct {
	ID            ChainID
	Name          ChainName
	Ecosystem     Ecosystem
	SS58Prefix    uint16
	Symbol        string
	Decimals      uint8
	FinalityDepth uint64
}

// Chains is the registry of networks known to the SDK. Moonbeam and Astar
// run an EVM execution environment on Substrate consensus; they are routed
// as EVM because intents against them carry EVM addresses and transactions.
var Chains = map[ChainID]ChainInfo{
	ChainIDEthereum:  {ID: ChainIDEthereum, Name: ChainNameEthereum, Ecosystem: EcosystemEVM, Symbol: "ETH", Decimals: 18, FinalityDepth: 12},
	ChainIDOptimism:  {ID: ChainIDOptimism, Name: ChainNameOptimism, Ecosystem: EcosystemEVM, Symbol: "ETH", Decimals: 18, FinalityDepth: 50},
	ChainIDBSC:       {ID: ChainIDBSC, Name: ChainNameBSC, Ecosystem: EcosystemEVM, Symbol: "BNB", Decimals: 18, FinalityDepth: 15},
	ChainIDPolygon:   {ID: ChainIDPolygon, Name: ChainNamePolygon, Ecosystem: EcosystemEVM, Symbol: "POL", Decimals: 18, FinalityDepth: 128},
	ChainIDZkSync:    {ID: ChainIDZkSync, Name: ChainNameZkSync, Ecosystem: EcosystemEVM, Symbol: "ETH", Decimals: 18, FinalityDepth: 30},
	ChainIDAstar:     {ID: ChainIDAstar, Name: ChainNameAstar, Ecosystem: EcosystemEVM, Symbol: "ASTR", Decimals: 18, FinalityDepth: 10},
	ChainIDMoonbeam:  {ID: ChainIDMoonbeam, Name: ChainNameMoonbeam, Ecosystem: EcosystemEVM, Symbol: "GLMR", Decimals: 18, FinalityDepth: 10},
	ChainIDBase:      {ID: ChainIDBase, Name: ChainNameBase, Ecosystem: EcosystemEVM, Symbol: "ETH", Decimals: 18, FinalityDepth: 50},
	ChainIDArbitrum:  {ID: ChainIDArbitrum, Name: ChainNameArbitrum, Ecosystem: EcosystemEVM, Symbol: "ETH", Decimals: 18, FinalityDepth: 20},
	ChainIDAvalanche: {ID: ChainIDAvalanche, Name: ChainNameAvalanche, Ecosystem: EcosystemEVM, Symbol: "AVAX", Decimals: 18, FinalityDepth: 5},

	ChainIDPolkadot: {ID: ChainIDPolkadot, Name: ChainNamePolkadot, Ecosystem: EcosystemSubstrate, SS58Prefix: 0, Symbol: "DOT", Decimals: 10},
	ChainIDKusama:   {ID: ChainIDKusama, Name: ChainNameKusama, Ecosystem: EcosystemSubstrate, SS58Prefix: 2, Symbol: "KSM", Decimals: 12},
	ChainIDWestend:  {ID: ChainIDWestend, Name: ChainNameWestend, Ecosystem: EcosystemSubstrate, SS58Prefix: 42, Symbol: "WND", Decimals: 12},
	ChainIDAcala:    {ID: ChainIDAcala, Name: ChainNameAcala, Ecosystem: EcosystemSubstrate, SS58Prefix: 10, Symbol: "ACA", Decimals: 12},
	ChainIDPhala:    {ID: ChainIDPhala, Name: ChainNamePhala, Ecosystem: EcosystemSubstrate, SS58Prefix: 30, Symbol: "PHA", Decimals: 12},
	ChainIDBifrost:  {ID: ChainIDBifrost, Name: ChainNameBifrost, Ecosystem: EcosystemSubstrate, SS58Prefix: 6, Symbol: "BNC", Decimals: 12},
}

// ChainNameToID maps the internal code back to its chain ID.
var ChainNameToID = func() map[ChainName]ChainID {
	m := make(map[ChainName]ChainID, len(Chains))
	for id, info := range Chains {
		m[info.Name] = id
	}
	return m
}()

// EcosystemOf returns the ecosystem a chain belongs to, defaulting unknown
// IDs by shape: decimal IDs are EVM, 0x-prefixed hashes are Substrate. This
// keeps custom networks usable without registry entries.
func EcosystemOf(id ChainID) Ecosystem {
	if info, ok := Chains[id]; ok {
		return info.Ecosystem
	}
	if len(id) >= 2 && id[0] == '0' && id[1] == 'x' {
		return EcosystemSubstrate
	}
	return EcosystemEVM
}

// ChainByID looks up registry info for a chain.
func ChainByID(id ChainID) (ChainInfo, bool) {
	info, ok := Chains[id]
	return info, ok
}

// SS58PrefixOf returns the registered address prefix for a Substrate chain,
// falling back to the generic prefix 42 for unregistered networks.
func SS58PrefixOf(id ChainID) uint16 {
	if info, ok := Chains[id]; ok && info.Ecosystem == EcosystemSubstrate {
		return info.SS58Prefix
	}
	return 42
}
