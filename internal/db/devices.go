package db

import (
	"fmt"

	"github.com/banshee-data/inspection.station/internal/config"
)

// Load returns the configured devices in the order they were saved.
// An empty table is an empty set, not an error.
func (db *DB) Load() (config.DeviceSet, error) {
	rows, err := db.Query(`SELECT device_id, name, role, port, baud_rate, data_bits, stop_bits, parity, enabled
	          FROM serial_devices
	          ORDER BY position ASC`)
	if err != nil {
		return config.DeviceSet{}, fmt.Errorf("failed to query serial devices: %w", err)
	}
	defer rows.Close()

	set := config.DeviceSet{Devices: []config.DeviceConfig{}}
	for rows.Next() {
		var (
			d       config.DeviceConfig
			role    string
			enabled int
		)
		if err := rows.Scan(&d.DeviceID, &d.Name, &role, &d.Port, &d.BaudRate,
			&d.DataBits, &d.StopBits, &d.Parity, &enabled); err != nil {
			return config.DeviceSet{}, fmt.Errorf("failed to scan serial device: %w", err)
		}
		d.Role = config.Role(role)
		d.Enabled = enabled == 1
		set.Devices = append(set.Devices, d)
	}
	if err := rows.Err(); err != nil {
		return config.DeviceSet{}, fmt.Errorf("failed to read serial devices: %w", err)
	}
	return set, nil
}

// Save replaces the stored devices with set in a single transaction.
func (db *DB) Save(set config.DeviceSet) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM serial_devices`); err != nil {
		return fmt.Errorf("failed to clear serial devices: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO serial_devices (device_id, position, name, role, port, baud_rate, data_bits, stop_bits, parity, enabled)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range set.Devices {
		enabled := 0
		if d.Enabled {
			enabled = 1
		}
		if _, err := stmt.Exec(d.DeviceID, i, d.Name, string(d.Role), d.Port, d.BaudRate,
			d.DataBits, d.StopBits, d.Parity, enabled); err != nil {
			return fmt.Errorf("failed to save device %s: %w", d.DeviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit serial devices: %w", err)
	}
	return nil
}

var _ config.Store = (*DB)(nil)
