package sqlcgen

type GraphNode struct {
	ID      string
	Kind    string
	Name    *string
	Bssid   *string
	Oui     *string
	Type    *string
	Auth    *string
	Cipher  *string
	Channel *string
	Speed   *string
	Lan     *string
}

type GraphEdge struct {
	Source string
	Target string
	Kind   string
	Name   string
}

type KindCount struct {
	Kind  string
	Count int64
}
