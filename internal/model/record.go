package model

import "time"

// Record is one scanned barcode in an integration's ledger. Each integration
// keeps its records in its own table, see store.TableName.
type Record struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BarCode      string    `gorm:"size:64;not null" json:"barCode"`
	AxleID       string    `gorm:"column:zh;size:64;not null" json:"zh"`
	AssemblyDate string    `gorm:"size:32" json:"assemblyDate"`
	AssemblyUnit string    `gorm:"size:128" json:"assemblyUnit"`
	ScannedAt    time.Time `gorm:"not null" json:"scannedAt"`
	Uploaded     bool      `gorm:"not null;default:false" json:"uploaded"`
}
