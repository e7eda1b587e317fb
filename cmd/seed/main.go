package main

import (
	"context"
	"log"

	"github.com/google/uuid"

	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

// Seed loads sample teachers and a roster for local development. Safe
// to re-run: rows are upserted by their natural keys.
func main() {
	cfg := config.Load()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	accounts := auth.NewAccountRepository(db.Client)
	students := roster.NewRepository(db.Client)

	teachers := []struct{ name, email, password string }{
		{"Dr. Sarah Johnson", "sarah.johnson@college.edu", "teacher123"},
		{"Prof. Michael Chen", "michael.chen@college.edu", "teacher123"},
		{"Dr. Emily Rodriguez", "emily.rodriguez@college.edu", "teacher123"},
	}
	for _, t := range teachers {
		hash, err := auth.HashPassword(t.password)
		if err != nil {
			log.Fatalf("hash password: %v", err)
		}
		if _, err := accounts.Upsert(ctx, t.name, t.email, hash); err != nil {
			log.Fatalf("seed teacher %s: %v", t.email, err)
		}
	}
	log.Printf("seeded %d teachers", len(teachers))

	rosterRows := []roster.Student{
		{RollNo: "CS2024001", Name: "Alice Johnson", ClassName: "Computer Science", Email: "alice.johnson@student.edu", FatherName: "Robert Johnson"},
		{RollNo: "CS2024002", Name: "Bob Smith", ClassName: "Computer Science", Email: "bob.smith@student.edu", FatherName: "John Smith"},
		{RollNo: "CS2024003", Name: "Charlie Brown", ClassName: "Computer Science", Email: "charlie.brown@student.edu", FatherName: "David Brown"},
		{RollNo: "CS2024004", Name: "Diana Prince", ClassName: "Computer Science", Email: "diana.prince@student.edu", FatherName: "Michael Prince"},
		{RollNo: "CS2023001", Name: "Fiona Garcia", ClassName: "Computer Science", Email: "fiona.garcia@student.edu", FatherName: "Carlos Garcia"},
		{RollNo: "MATH2024001", Name: "Ian Thompson", ClassName: "Mathematics", Email: "ian.thompson@student.edu", FatherName: "Peter Thompson"},
		{RollNo: "MATH2024002", Name: "Julia Davis", ClassName: "Mathematics", Email: "julia.davis@student.edu", FatherName: "Richard Davis"},
		{RollNo: "PHY2024001", Name: "Lisa Anderson", ClassName: "Physics", Email: "lisa.anderson@student.edu", FatherName: "James Anderson"},
		{RollNo: "PHY2024002", Name: "Mark Taylor", ClassName: "Physics", Email: "mark.taylor@student.edu", FatherName: "Andrew Taylor"},
	}
	for _, st := range rosterRows {
		st.ID = uuid.NewString()
		if err := students.Upsert(ctx, st); err != nil {
			log.Fatalf("seed student %s: %v", st.RollNo, err)
		}
	}
	log.Printf("seeded %d students", len(rosterRows))
}
