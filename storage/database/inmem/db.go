package inmemdb

import (
	"sync"

	"github.com/kpsipet/pengaduan/core/complaint"
)

// DB is an in-memory stand-in for the relational store, used by tests and local runs.
type DB struct {
	mutex sync.RWMutex
	seq   int

	students   map[int]complaint.Student
	teachers   map[int]complaint.Teacher
	templates  map[int]complaint.Template
	cases      map[int]complaint.Case
	approvals  map[int]complaint.Approval
	deliveries map[int]complaint.PendingDelivery
}

func Open() *DB {
	return &DB{
		students:   make(map[int]complaint.Student),
		teachers:   make(map[int]complaint.Teacher),
		templates:  make(map[int]complaint.Template),
		cases:      make(map[int]complaint.Case),
		approvals:  make(map[int]complaint.Approval),
		deliveries: make(map[int]complaint.PendingDelivery),
	}
}

func (db *DB) nextID() int {
	db.seq++
	return db.seq
}
