package pac

// Response is the PAC gateway reply. The authority is known to occasionally
// return malformed or partial bodies, so responses are always schema-validated
// after decoding rather than accessed ad hoc.
type Response struct {
	Status  int           `json:"status"`
	Message string        `json:"message"`
	Data    []DataRecord  `json:"data"`
	Errors  []ErrorRecord `json:"errors,omitempty"`
}

// DataRecord is one processed-lot entry.
type DataRecord struct {
	Lote    LotInfo   `json:"lote"`
	Codigo  string    `json:"codigo"`
	Mensaje string    `json:"mensaje"`
	Protocolo *Protocol `json:"protocolo,omitempty"`
}

// LotInfo identifies the processing lot a record belongs to.
type LotInfo struct {
	Numero  string `json:"numero"`
	Mensaje string `json:"mensaje,omitempty"`
}

// Protocol is the fiscal authorization record attached to a successful entry.
type Protocol struct {
	CUFE    string `json:"cufe"`
	URLCUFE string `json:"urlCufe"`
	XMLFE   string `json:"xmlFE"`
}

// ErrorRecord is one entry of the optional top-level error list.
type ErrorRecord struct {
	Codigo  string `json:"codigo"`
	Mensaje string `json:"mensaje"`
}
