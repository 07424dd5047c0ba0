package qbittorrent

// Torrent is one entry of /api/v2/torrents/info
type Torrent struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	State    string  `json:"state"`
	Category string  `json:"category,omitempty"`
	Tags     string  `json:"tags,omitempty"`
	Size     int64   `json:"size"`
	Progress float64 `json:"progress"`
	AddedOn  int64   `json:"added_on"`
	SavePath string  `json:"save_path,omitempty"`
}
