package main

import (
	"fmt"

	"github.com/krati-go/krati"
)

func main() {
	arr, err := krati.Open(
		krati.WithDirectory("data"),
		krati.WithSubArrayBits(16),
		krati.WithMaxEntrySize(10000),
		krati.WithMaxEntries(5),
	)
	if err != nil {
		panic(err)
	}
	defer arr.Close()

	if err := arr.Set(0, 100, 1); err != nil {
		fmt.Println(err)
		return
	}
	if err := arr.Set(5, 500, 2); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("set index 0 and 5")

	v, err := arr.Get(0)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("get index 0:", v)

	if err := arr.Sync(); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("synced, lwm:", arr.GetLWMark(), "hwm:", arr.GetHWMark())

	if err := arr.Set(200000, 42, 3); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("array grew to length:", arr.Length())
}
