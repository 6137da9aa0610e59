// Package gorm provides GORM-backed implementations of the authmux store
// interfaces. Run AutoMigrate once at startup to create the tables.
package gorm
