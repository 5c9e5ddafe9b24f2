package db

import (
	"fmt"
)

// DeviceCommand is one write sent to a device through the API.
type DeviceCommand struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`
	Data     []byte `json:"data"`
	Error    string `json:"error,omitempty"`
	SentAtMs int64  `json:"sent_at_ms"`
}

// RecordCommand appends a sent command to the log. sendErr is the result of
// the write, nil on success.
func (db *DB) RecordCommand(deviceID string, data []byte, sentAtMs int64, sendErr error) error {
	msg := ""
	if sendErr != nil {
		msg = sendErr.Error()
	}
	if data == nil {
		data = []byte{}
	}
	_, err := db.Exec(`INSERT INTO device_commands (device_id, data, error, sent_at_ms) VALUES (?, ?, ?, ?)`,
		deviceID, data, msg, sentAtMs)
	if err != nil {
		return fmt.Errorf("failed to record command for %s: %w", deviceID, err)
	}
	return nil
}

// RecentCommands returns up to limit commands, newest first. An empty
// deviceID matches every device.
func (db *DB) RecentCommands(deviceID string, limit int) ([]DeviceCommand, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT command_id, device_id, data, error, sent_at_ms
	          FROM device_commands
	          WHERE ? = '' OR device_id = ?
	          ORDER BY command_id DESC
	          LIMIT ?`, deviceID, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	commands := []DeviceCommand{}
	for rows.Next() {
		var c DeviceCommand
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Data, &c.Error, &c.SentAtMs); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}
