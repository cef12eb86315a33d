package dbo_test

import (
	"fmt"

	"github.com/shrek82/dbo"
	"github.com/shrek82/dbo/logger"
)

func Example() {
	db, err := dbo.Open("sqlite::memory:", "", "", &dbo.Options{Logger: logger.Discard()})
	if err != nil {
		panic(err)
	}
	defer db.Close()

	db.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
	ins, _ := db.Prepare("INSERT INTO users (name) VALUES (:name)")
	ins.Execute(dbo.Named("name", "ann"))
	ins.Execute(dbo.Named("name", "bob"))
	ins.Close()

	s, _ := db.Query("SELECT id, name FROM users ORDER BY id")
	defer s.Close()
	for {
		row, _ := s.Fetch()
		if row == nil {
			break
		}
		fmt.Println(row[0].Text, row[1].Text)
	}

	_, err = db.Query("SELECT * FROM missing")
	fmt.Println(dbo.ErrorCode(err))
	// Output:
	// 1 ann
	// 2 bob
	// 42S02
}
