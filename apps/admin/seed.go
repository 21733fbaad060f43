package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/mahudhurio/core/geo"
	"github.com/trezcool/mahudhurio/core/session"
	dummynotify "github.com/trezcool/mahudhurio/services/notify/dummy"
)

// seed opens a 30-minute demo session for the given class and records a
// handful of sample attendance claims against it.
func (cli *commandLine) seed(classID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := session.NewService(cli.repo, dummynotify.NewService(), cli.conf)

	center := geo.Point{Lat: -1.9535, Lng: 30.0606} // Kigali campus
	sess, err := svc.Start(ctx, session.NewSession{
		ClassID:    classID,
		LecturerID: "seed-lecturer",
		Duration:   30 * time.Minute,
		Fence:      &geo.Fence{Center: center, Radius: cli.conf.Session.GeofenceRadius},
	})
	if err != nil {
		return err
	}

	for i := 1; i <= 5; i++ {
		_, err = svc.SubmitScan(ctx, session.ScanInput{
			Code:        sess.Code,
			Fingerprint: fmt.Sprintf("seed-device-%d", i),
			Location:    &center,
			SessionID:   sess.ID,
			StudentID:   fmt.Sprintf("seed-student-%d", i),
		})
		if err != nil {
			return err
		}
	}

	logger.Printf("seeded session %s for class %s (code %s)", sess.ID, classID, sess.Code)
	return nil
}
