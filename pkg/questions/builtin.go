package questions

import "github.com/easyinjection/scand/pkg/models"

// Builtin returns the seed question bank used when no database-backed store
// is configured. Prompts are stored with CorrectIndex 0; Select shuffles
// per presentation.
func Builtin() *MemoryStore {
	return NewMemoryStore(
		prompt("discovery", "q-disc-1",
			"¿Cuál es el objetivo principal de la fase de descubrimiento?",
			"Identificar endpoints y parámetros de la aplicación",
			"Explotar vulnerabilidades encontradas",
			"Generar el reporte final",
			"Cerrar la sesión del usuario"),
		prompt("discovery", "q-disc-2",
			"¿Qué información extrae el crawler de un formulario HTML?",
			"La URL de acción, el método y los campos de entrada",
			"Solo el título de la página",
			"Las cookies del navegador",
			"El código JavaScript minificado"),
		prompt("sqli", "q-sqli-1",
			"¿Qué es una inyección SQL?",
			"La inserción de código SQL malicioso en una consulta de la aplicación",
			"Un error de sintaxis en la base de datos",
			"Una técnica de optimización de consultas",
			"Un tipo de cifrado de datos"),
		prompt("sqli", "q-sqli-2",
			"¿Cuál de estas entradas es un indicio clásico de SQLi?",
			"' OR '1'='1",
			"<script>alert(1)</script>",
			"../../etc/passwd",
			"%0d%0aSet-Cookie"),
		prompt("sqli-detection", "q-sqli-det-1",
			"¿Qué observa un escáner para detectar SQLi booleana?",
			"Diferencias en la respuesta ante condiciones verdaderas y falsas",
			"El tiempo de compilación del servidor",
			"El número de cookies emitidas",
			"El tamaño de las imágenes servidas"),
		prompt("sqli-fingerprint", "q-sqli-fp-1",
			"¿Para qué sirve el fingerprinting del DBMS?",
			"Identificar el motor y versión de la base de datos para afinar las pruebas",
			"Borrar las tablas del sistema",
			"Acelerar la red",
			"Ofuscar los payloads"),
		prompt("sqli-technique", "q-sqli-tech-1",
			"¿Qué caracteriza a una inyección basada en tiempo?",
			"La respuesta se retrasa cuando la condición inyectada es verdadera",
			"El servidor devuelve siempre un error 500",
			"Los datos se extraen en la propia página",
			"Solo funciona sobre HTTPS"),
		prompt("sqli-exploit", "q-sqli-exp-1",
			"En un entorno educativo, ¿qué es una prueba de explotación segura?",
			"Leer datos no destructivos como el banner o la base de datos actual",
			"Eliminar registros de producción",
			"Modificar contraseñas de usuarios",
			"Apagar el servidor de base de datos"),
		prompt("xss", "q-xss-1",
			"¿Qué es Cross-Site Scripting (XSS)?",
			"La ejecución de scripts inyectados en el navegador de la víctima",
			"Un ataque de fuerza bruta sobre contraseñas",
			"Una inyección de comandos del sistema operativo",
			"Un desbordamiento de búfer"),
		prompt("xss", "q-xss-2",
			"¿Cuál es la defensa principal contra XSS reflejado?",
			"Codificar la salida según el contexto donde se inserta",
			"Usar contraseñas largas",
			"Deshabilitar las cookies",
			"Comprimir las respuestas HTTP"),
		prompt("xss-context", "q-xss-ctx-1",
			"¿Por qué importa el contexto de inyección en XSS?",
			"El payload necesario cambia según se inyecte en HTML, atributo o script",
			"Solo afecta al rendimiento del escáner",
			"Determina el puerto del servidor",
			"No tiene ninguna relevancia"),
	)
}

func prompt(tag, id, text string, correct string, wrong ...string) models.QuestionPrompt {
	options := append([]string{correct}, wrong...)
	answerIDs := make([]string, len(options))
	for i := range options {
		answerIDs[i] = id + "-a" + string(rune('1'+i))
	}
	return models.QuestionPrompt{
		PhaseTag:     tag,
		Text:         text,
		Options:      options,
		CorrectIndex: 0,
		Points:       10,
		QuestionID:   id,
		AnswerIDs:    answerIDs,
	}
}
