// Package tablerepo holds the tables produced by executed nodes. A workflow
// owns one Repository; executed containers publish their outputs into it so
// downstream nodes share the same table instead of a copy.
package tablerepo
